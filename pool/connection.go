package pool

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Connection is a snapshot of one pooled backend connection.
// Values returned by the Manager are copies; mutating them does not affect the pool.
type Connection struct {
	ID           string            `json:"id"`
	Pool         string            `json:"pool"`
	Type         ConnectionType    `json:"type"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Database     string            `json:"database,omitempty"`
	Status       ConnectionStatus  `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastUsed     time.Time         `json:"lastUsed"`
	ResponseTime time.Duration     `json:"responseTime"`
	ErrorCount   int               `json:"errorCount"`
	HealthStatus ConnectionHealth  `json:"healthStatus"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	handle Handle
}

// Raw returns the driver handle behind the connection.
// The returned value can be type asserted to the driver's concrete type.
func (c Connection) Raw() interface{} {
	return c.handle
}

// IdleFor reports how long the connection has gone unused.
func (c Connection) IdleFor(now time.Time) time.Duration {
	return now.Sub(c.LastUsed)
}

// newConnectionID 生成连接ID，格式为 <池名>_<毫秒时间戳>_<随机串>
func newConnectionID(poolName string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", poolName, now.UnixMilli(), suffix)
}

// snapshot 返回连接的副本，元数据也会被复制
func (c *Connection) snapshot() Connection {
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
