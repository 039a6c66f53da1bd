// Package logging 根据配置构造 zerolog 日志
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fyerfyer/connpool/internal/config"
	"github.com/rs/zerolog"
)

// New 按配置创建日志。OutputFile 为空时写入 w，返回的 closer 负责关闭日志文件。
func New(cfg config.LoggingConfig, w io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("invalid log level: %w", err)
	}

	var closer io.Closer = nopCloser{}
	output := w
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output, closer = file, file
	}

	switch cfg.Format {
	case "console":
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	case "json", "":
	default:
		_ = closer.Close()
		return zerolog.Logger{}, nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
