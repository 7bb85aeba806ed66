package main

import (
	"bytes"
	"flag"
	"io"
	"os"

	"github.com/drone/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sensordb/sensordb/sensordb"
)

// Config is the service wrapper configuration: HTTP listener and housekeeping
// knobs around the engine config proper.
type Config struct {
	HTTPListenAddress string `yaml:"http_listen_address"`
	HTTPListenPort    int    `yaml:"http_listen_port"`
	LogLevel          string `yaml:"log_level"`

	// CleanupIntervalSeconds is how often cache housekeeping runs.
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`

	Engine *sensordb.Config `yaml:"engine"`
}

func defaultConfig() *Config {
	return &Config{
		HTTPListenAddress:      "0.0.0.0",
		HTTPListenPort:         3200,
		LogLevel:               "info",
		CleanupIntervalSeconds: 300,
		Engine:                 sensordb.DefaultConfig(),
	}
}

func loadConfig() (*Config, bool, error) {
	const (
		configFileOption      = "config.file"
		configExpandEnvOption = "config.expand-env"
		configVerifyOption    = "config.verify"
	)

	var (
		configFile      string
		configExpandEnv bool
		configVerify    bool
	)

	args := os.Args[1:]
	config := defaultConfig()

	// first get the config file
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	fs.BoolVar(&configVerify, configVerifyOption, false, "")

	// Try to find -config.file & -config.expand-env flags. As Parsing stops on the first error, eg. unknown flag,
	// we simply try remaining parameters until we find config flag, or there are no params left.
	// (ContinueOnError just means that flag.Parse doesn't call panic or os.Exit, but it returns error, which we ignore)
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	// overlay with config file if provided
	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, false, errors.Wrapf(err, "failed to read configFile %s", configFile)
		}

		if configExpandEnv {
			s, err := envsubst.EvalEnv(string(buff))
			if err != nil {
				return nil, false, errors.Wrapf(err, "failed to expand env vars from configFile %s", configFile)
			}
			buff = []byte(s)
		}

		dec := yaml.NewDecoder(bytes.NewReader(buff))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && err != io.EOF {
			return nil, false, errors.Wrapf(err, "failed to parse configFile %s", configFile)
		}
	}

	// overlay with cli
	flag.String(configFileOption, "", "Configuration file to load")
	flag.Bool(configExpandEnvOption, false, "Whether to expand environment variables in config file")
	flag.Bool(configVerifyOption, false, "Verify configuration and exit")
	flag.Parse()

	if config.Engine == nil {
		config.Engine = sensordb.DefaultConfig()
	}

	return config, configVerify, nil
}
