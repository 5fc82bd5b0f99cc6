package config

import (
	"strings"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectolinq"
	"github.com/joho/godotenv"
)

// Load reads the configuration from the environment, after loading a .env file when
// one is present. Fields take the value of their env tag, falling back to env-default.
func Load() (Config, error) {
	_ = godotenv.Load()
	return load()
}

func load() (Config, error) {
	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return Config{}, err
	}

	cfg.KafkaBrokers = trimList(cfg.KafkaBrokers)
	cfg.AllowOrigins = trimList(cfg.AllowOrigins)
	cfg.AllowMethods = trimList(cfg.AllowMethods)
	return cfg, nil
}

// trimList drops the padding and empty entries a comma separated variable tends to carry
func trimList(values []string) []string {
	trimmed := ectolinq.Map(values, strings.TrimSpace)
	return ectolinq.Filter(trimmed, func(v string) bool { return v != "" })
}
