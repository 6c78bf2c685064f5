package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "txingest",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Jobs: TopologyConfig{
				Exchange:   ExchangeConfig{Name: "txingest.jobs", Type: "direct"},
				Queue:      QueueConfig{Name: "txingest.jobs.start"},
				RoutingKey: "job.start",
			},
			Progress: TopologyConfig{
				Exchange: ExchangeConfig{Name: "txingest.progress", Type: "fanout"},
			},
		},
		Ingest: IngestConfig{UploadDir: "./uploads"},
		Worker: WorkerConfig{
			Concurrency:       4,
			ShutdownTimeout:   30 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			ChunkTimeout:      10 * time.Minute,
			RetryMaxAttempts:  3,
		},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "txingest", cfg.Database.Database)
				assert.Equal(t, "txingest.jobs", cfg.RabbitMQ.Jobs.Exchange.Name)
				assert.Equal(t, "txingest.jobs.start", cfg.RabbitMQ.Jobs.Queue.Name)
				assert.Equal(t, "txingest.progress", cfg.RabbitMQ.Progress.Exchange.Name)
				assert.Equal(t, "fanout", cfg.RabbitMQ.Progress.Exchange.Type)
				assert.Equal(t, "./uploads", cfg.Ingest.UploadDir)
				assert.Equal(t, "txingest-api", cfg.App.Name)
				assert.Equal(t, 4, cfg.Worker.Concurrency)
				assert.Equal(t, 10*time.Minute, cfg.Worker.ChunkTimeout)
				assert.Equal(t, 3, cfg.Worker.RetryMaxAttempts)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty jobs exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Jobs.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq jobs exchange name is required",
		},
		{
			name:      "empty jobs queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Jobs.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq jobs queue name is required",
		},
		{
			name:      "empty progress exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Progress.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq progress exchange name is required",
		},
		{
			name:      "empty upload dir",
			mutate:    func(c *Config) { c.Ingest.UploadDir = "" },
			wantErr:   true,
			errString: "ingest upload_dir is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero chunk timeout",
			mutate:    func(c *Config) { c.Worker.ChunkTimeout = 0 },
			wantErr:   true,
			errString: "worker chunk_timeout must be greater than 0",
		},
		{
			name:      "zero heartbeat interval",
			mutate:    func(c *Config) { c.Worker.HeartbeatInterval = 0 },
			wantErr:   true,
			errString: "worker heartbeat_interval must be greater than 0",
		},
		{
			name:      "claim stale threshold below heartbeat interval",
			mutate:    func(c *Config) { c.Worker.ClaimStaleAfter = c.Worker.HeartbeatInterval / 2 },
			wantErr:   true,
			errString: "worker claim_stale_after must exceed heartbeat_interval",
		},
		{
			name:      "zero retry attempts",
			mutate:    func(c *Config) { c.Worker.RetryMaxAttempts = 0 },
			wantErr:   true,
			errString: "worker retry_max_attempts must be greater than 0",
		},
		{
			name:      "shared validation still applies",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
