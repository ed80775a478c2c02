// Package config loads the broker connection settings the connector needs
// from a JSON file shaped like:
//
//	{ "MQ": { "server": "localhost", "port": 5672,
//	          "users": { "<service_name>": { "user": "...", "password": "..." } } } }
//
// The top-level "MQ" wrapper is optional: a file containing just the inner
// object (server/port/users) is accepted too, matching the original
// connector's load_neon_mq_config behavior.
package config

import (
	"github.com/spf13/viper"
)

const (
	defaultServer = "localhost"
	defaultPort   = 5672
	defaultUser   = "guest"
	defaultPass   = "guest"
)

// UserCredentials is one service's entry under "users" in the config file.
type UserCredentials struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// MQConfig is the parsed, MQ-unwrapped configuration.
type MQConfig struct {
	Server string                     `mapstructure:"server"`
	Port   int                        `mapstructure:"port"`
	Users  map[string]UserCredentials `mapstructure:"users"`
}

// CredentialsFor returns the user/password registered for serviceName,
// falling back to guest/guest if the service has no entry — matching the
// original connector's mq_credentials property.
func (c MQConfig) CredentialsFor(serviceName string) (user, password string) {
	creds, ok := c.Users[serviceName]
	if !ok {
		return defaultUser, defaultPass
	}
	user, password = creds.User, creds.Password
	if user == "" {
		user = defaultUser
	}
	if password == "" {
		password = defaultPass
	}
	return user, password
}

// Load reads path (a JSON file) via viper, unwraps an "MQ" key if present,
// and fills in server/port defaults for whatever the file omits.
func Load(path string) (MQConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return MQConfig{}, err
	}

	if v.IsSet("MQ") {
		v = v.Sub("MQ")
	}

	v.SetDefault("server", defaultServer)
	v.SetDefault("port", defaultPort)

	var cfg MQConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return MQConfig{}, err
	}
	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	return cfg, nil
}
