package config

import (
	"time"

	"github.com/BaSui01/parley/orchestrator"
	"github.com/BaSui01/parley/persistence"
)

// DefaultConfig returns the configuration used when no file or env
// overrides are present: in-process backends, info logging, telemetry off.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			MetricsPort:     9090,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "parley",
			SampleRate:   1.0,
		},
		Channel: ChannelConfig{
			Backend:      "memory",
			MaxLen:       1024,
			PollInterval: 50 * time.Millisecond,
		},
		Store: StoreConfig{
			Backend: "memory",
			Database: persistence.GormConfig{
				Driver: "sqlite",
				DSN:    "parley.db",
			},
			Mongo: persistence.MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "parley",
				Collection: "conversations",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Scheduler: orchestrator.DefaultConfig(),
	}
}
