package azure

import "time"

type Config struct {
	StorageAccountName string        `yaml:"storage_account_name"`
	StorageAccountKey  string        `yaml:"storage_account_key"`
	ContainerName      string        `yaml:"container_name"`
	Endpoint           string        `yaml:"endpoint_suffix"`
	MaxBuffers         int           `yaml:"max_buffers"`
	BufferSize         int           `yaml:"buffer_size"`
	ListTTL            time.Duration `yaml:"list_ttl"`
}

func (cfg *Config) applyDefaults() {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "blob.core.windows.net"
	}
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 3 * 1024 * 1024
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 300 * time.Second
	}
}
