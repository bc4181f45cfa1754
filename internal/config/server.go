package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Server holds the process-level settings read from tabletrace.yaml and
// the TABLETRACE_* environment.
type Server struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	PollIntervalMs  int    `mapstructure:"poll_interval_ms"`
	MaxRowsPerTable int    `mapstructure:"max_rows_per_table"`
	LogLevel        string `mapstructure:"log_level"`
	LogFile         string `mapstructure:"log_file"`
	ProfilesPath    string `mapstructure:"profiles_path"`
}

// LoadServer reads the server configuration. A missing config file is
// not an error; defaults and environment variables still apply.
func LoadServer(path string) (Server, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("poll_interval_ms", 1000)
	v.SetDefault("max_rows_per_table", 10000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("profiles_path", "profiles.json")

	v.SetEnvPrefix("TABLETRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tabletrace")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return Server{}, err
		}
	}

	var s Server
	if err := v.Unmarshal(&s); err != nil {
		return Server{}, err
	}
	return s, nil
}
