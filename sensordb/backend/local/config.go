package local

import "time"

type Config struct {
	Path    string        `yaml:"path"`
	ListTTL time.Duration `yaml:"list_ttl"`
}

func (cfg *Config) applyDefaults() {
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 60 * time.Second
	}
}
