package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fyerfyer/connpool/pool"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// 支持的 database/sql 驱动名
const (
	DriverPgx     = "pgx"
	DriverSQLite3 = "sqlite3"
)

// SQLConfig 定义 SQL 驱动配置
type SQLConfig struct {
	// 驱动名称，pgx 或 sqlite3
	DriverName string

	// 数据源名称（连接字符串）
	DataSourceName string

	// 健康检查 SQL
	HealthCheckSQL string

	// database/sql 内部池设置，池中每个连接独占一个 *sql.Conn
	MaxOpenConns    int
	ConnMaxLifetime time.Duration

	// 初始化函数，打开数据库后调用
	InitFunc func(*sql.DB) error
}

// DefaultSQLConfig 返回默认的 SQL 配置
func DefaultSQLConfig(driverName, dataSourceName string) *SQLConfig {
	return &SQLConfig{
		DriverName:      driverName,
		DataSourceName:  dataSourceName,
		HealthCheckSQL:  "SELECT 1",
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// SQLDriver 通过 database/sql 拨出独占的 *sql.Conn
type SQLDriver struct {
	db       *sql.DB
	config   *SQLConfig
	endpoint pool.Endpoint
}

// NewSQLDriver 打开数据库，但不立即建立连接；连接在 Dial 时建立
func NewSQLDriver(config *SQLConfig) (*SQLDriver, error) {
	if config == nil {
		return nil, fmt.Errorf("SQL configuration cannot be nil")
	}
	if config.HealthCheckSQL == "" {
		config.HealthCheckSQL = "SELECT 1"
	}

	endpoint, err := sqlEndpoint(config.DriverName, config.DataSourceName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(config.DriverName, config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	// 空闲连接由 connpool 管理，database/sql 不再保留
	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if config.InitFunc != nil {
		if err := config.InitFunc(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("database initialization failed: %w", err)
		}
	}

	return &SQLDriver{
		db:       db,
		config:   config,
		endpoint: endpoint,
	}, nil
}

// sqlEndpoint 从连接字符串解析后端地址
func sqlEndpoint(driverName, dsn string) (pool.Endpoint, error) {
	switch driverName {
	case DriverPgx:
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return pool.Endpoint{}, fmt.Errorf("failed to parse postgres dsn: %w", err)
		}
		return pool.Endpoint{Host: cfg.Host, Port: int(cfg.Port), Database: cfg.Database}, nil
	case DriverSQLite3:
		return pool.Endpoint{Host: "localhost", Database: dsn}, nil
	default:
		return pool.Endpoint{}, fmt.Errorf("unsupported sql driver %q", driverName)
	}
}

// Dial 实现 pool.Driver，返回 *sql.Conn
func (d *SQLDriver) Dial(ctx context.Context) (pool.Handle, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Close 实现 pool.Driver
func (d *SQLDriver) Close(ctx context.Context, h pool.Handle) error {
	conn, ok := h.(*sql.Conn)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}
	return conn.Close()
}

// Ping 实现 pool.Driver，执行健康检查 SQL 并返回耗时
func (d *SQLDriver) Ping(ctx context.Context, h pool.Handle) (time.Duration, error) {
	conn, ok := h.(*sql.Conn)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnexpectedHandle, h)
	}

	start := time.Now()
	var result int
	if err := conn.QueryRowContext(ctx, d.config.HealthCheckSQL).Scan(&result); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Endpoint 实现 pool.Driver
func (d *SQLDriver) Endpoint() pool.Endpoint {
	return d.endpoint
}

// Shutdown 关闭底层 *sql.DB，应在连接池移除之后调用
func (d *SQLDriver) Shutdown() error {
	return d.db.Close()
}

// WithSQLConn 从池中借出连接执行 fn，fn 的错误会计入连接错误次数
func WithSQLConn(ctx context.Context, m *pool.Manager, poolName string, fn func(*sql.Conn) error) error {
	return withHandle(ctx, m, poolName, fn)
}

// WithSQLTx 在借出的连接上开启事务执行 fn，fn 出错时回滚，否则提交
func WithSQLTx(ctx context.Context, m *pool.Manager, poolName string, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	return WithSQLConn(ctx, m, poolName, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("operation failed (%v) and transaction rollback failed: %w", err, rbErr)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}
