package config

// Config holds docpipe configuration.
// Stored at: config.yaml (or the path passed with --config)
type Config struct {
	Server     ServerCfg     `mapstructure:"server" yaml:"server"`
	Anonymizer AnonymizerCfg `mapstructure:"anonymizer" yaml:"anonymizer"`
	Storage    StorageCfg    `mapstructure:"storage" yaml:"storage"`
	Pipeline   PipelineCfg   `mapstructure:"pipeline" yaml:"pipeline"`
	Logging    LoggingCfg    `mapstructure:"logging" yaml:"logging"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// AnonymizerCfg configures the external anonymization service client.
type AnonymizerCfg struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"` // supports ${ENV_VAR} syntax
	Language string `mapstructure:"language" yaml:"language"`
}

// StorageCfg selects and configures the persistence backend.
type StorageCfg struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "memory"
	Path   string `mapstructure:"path" yaml:"path"`     // sqlite database file
}

// PipelineCfg tunes the processing flows.
type PipelineCfg struct {
	// MaxContentBytes rejects tasks whose source exceeds this size.
	MaxContentBytes int `mapstructure:"max_content_bytes" yaml:"max_content_bytes"`
	// Queues maps queue name to worker count.
	Queues map[string]int `mapstructure:"queues" yaml:"queues"`
}

// LoggingCfg configures structured logging.
type LoggingCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Anonymizer: AnonymizerCfg{
			BaseURL:  "${DOCPIPE_ANONYMIZER_URL}",
			Language: "en",
		},
		Storage: StorageCfg{
			Driver: "sqlite",
			Path:   "docpipe.db",
		},
		Pipeline: PipelineCfg{
			MaxContentBytes: 2 << 20,
			Queues: map[string]int{
				"orchestration": 3,
				"processing":    8,
			},
		},
		Logging: LoggingCfg{
			Level:  "info",
			Format: "text",
		},
	}
}
