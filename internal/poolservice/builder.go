package poolservice

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/fyerfyer/connpool/internal/config"
	"github.com/fyerfyer/connpool/pool"
	"github.com/fyerfyer/connpool/pool/adapters"
)

// shutdowner 由持有共享资源的驱动实现，例如 SQLDriver 持有的 *sql.DB
type shutdowner interface {
	Shutdown() error
}

// NewDriver 按 PoolSpec 的驱动类型构造 pool.Driver
func NewDriver(spec config.PoolSpec) (pool.Driver, error) {
	typ := pool.ConnectionType(spec.Type)
	ep := spec.Endpoint

	switch spec.Driver {
	case config.DriverSimulated, "":
		var opts []adapters.SimulatedOption
		if ep.Host != "" {
			opts = append(opts, adapters.WithSimulatedEndpoint(pool.Endpoint{
				Host:     ep.Host,
				Port:     ep.Port,
				Database: ep.Database,
			}))
		}
		if ep.FailureRate > 0 {
			opts = append(opts, adapters.WithFailureRate(ep.FailureRate, rand.New(rand.NewSource(time.Now().UnixNano()))))
		}
		return adapters.NewSimulatedDriver(typ, opts...), nil

	case config.DriverSQL:
		driverName := ep.SQLDriver
		if driverName == "" {
			driverName = adapters.DriverPgx
		}
		d, err := adapters.NewSQLDriver(adapters.DefaultSQLConfig(driverName, ep.DSN))
		if err != nil {
			return nil, err
		}
		return d, nil

	case config.DriverRedis:
		rc := adapters.DefaultRedisConfig()
		if ep.Addr != "" {
			rc.Addr = ep.Addr
		}
		rc.Password = ep.Password
		rc.DB = ep.DB
		return adapters.NewRedisDriver(rc), nil

	case config.DriverHTTP:
		hc := adapters.DefaultHTTPClientConfig(ep.URL)
		if ep.HealthPath != "" {
			hc.HealthPath = ep.HealthPath
		}
		d, err := adapters.NewHTTPDriver(hc)
		if err != nil {
			return nil, err
		}
		return d, nil

	case config.DriverGRPC:
		gc := adapters.DefaultGRPCClientConfig(ep.Target)
		gc.HealthService = ep.HealthService
		d, err := adapters.NewGRPCDriver(gc)
		if err != nil {
			return nil, err
		}
		return d, nil

	default:
		return nil, fmt.Errorf("unknown driver %q", spec.Driver)
	}
}
