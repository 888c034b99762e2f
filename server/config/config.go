// Package config builds the merged configuration map described in spec
// section 6: defaults, then an optional YAML file, then command-line
// overrides. The result is read-only after construction and threaded
// through every constructor as an explicit value -- no process-wide
// singleton, per the "global state" design note.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized key from spec section 6.
type Config struct {
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`

	DB       string `yaml:"db"`
	RDBHost  string `yaml:"rdb_host"`
	RDBPort  int    `yaml:"rdb_port"`

	NSQDTCPAddress     []string `yaml:"nsqd_tcp_address"`
	LookupdHTTPAddress []string `yaml:"lookupd_http_address"`

	UserOnRequest  bool `yaml:"user_on_request"`
	GroupOnRequest bool `yaml:"group_on_request"`

	SSL     bool `yaml:"ssl"`
	Verbose bool `yaml:"verbose"`
}

// Defaults returns the built-in baseline before any file or flag is
// applied.
func Defaults() Config {
	return Config{
		Hostname:           "localhost",
		Port:               6667,
		DB:                 "ircdd",
		RDBHost:            "localhost",
		RDBPort:            28015,
		NSQDTCPAddress:     []string{"localhost:4150"},
		LookupdHTTPAddress: []string{"localhost:4161"},
		UserOnRequest:      false,
		GroupOnRequest:     false,
	}
}

// Load builds a Config from defaults, an optional YAML file, then
// overrides. A zero-value override field leaves the prior value in place.
func Load(path string, overrides Config) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyOverrides(&cfg, overrides)
	return cfg, nil
}

func applyOverrides(cfg *Config, o Config) {
	if o.Hostname != "" {
		cfg.Hostname = o.Hostname
	}
	if o.Port != 0 {
		cfg.Port = o.Port
	}
	if o.DB != "" {
		cfg.DB = o.DB
	}
	if o.RDBHost != "" {
		cfg.RDBHost = o.RDBHost
	}
	if o.RDBPort != 0 {
		cfg.RDBPort = o.RDBPort
	}
	if len(o.NSQDTCPAddress) > 0 {
		cfg.NSQDTCPAddress = o.NSQDTCPAddress
	}
	if len(o.LookupdHTTPAddress) > 0 {
		cfg.LookupdHTTPAddress = o.LookupdHTTPAddress
	}
	if o.UserOnRequest {
		cfg.UserOnRequest = o.UserOnRequest
	}
	if o.GroupOnRequest {
		cfg.GroupOnRequest = o.GroupOnRequest
	}
	if o.SSL {
		cfg.SSL = o.SSL
	}
	if o.Verbose {
		cfg.Verbose = o.Verbose
	}
}
