package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type settings struct {
	Listen        string
	MaxConns      int
	Validation    bool
	MetricsListen string
	LogLevel      string
}

func defaultSettings() settings {
	return settings{
		Listen:   ":6000",
		LogLevel: "info",
	}
}

type fileConfig struct {
	Listen        string `toml:"listen"`
	MaxConns      int    `toml:"max_conns"`
	Validation    bool   `toml:"validation"`
	MetricsListen string `toml:"metrics_listen"`
	LogLevel      string `toml:"log_level"`
}

func loadSettings(path string) (settings, error) {
	cfg := defaultSettings()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return settings{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("listen") {
		cfg.Listen = raw.Listen
	}

	if meta.IsDefined("max_conns") {
		cfg.MaxConns = raw.MaxConns
	}

	if meta.IsDefined("validation") {
		cfg.Validation = raw.Validation
	}

	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = raw.MetricsListen
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = raw.LogLevel
	}

	return cfg, nil
}
