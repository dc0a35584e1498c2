package main

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	UserID      string
	Token       string
	MetricsAddr string
	ShowVersion bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("CHAT_CONFIG", ""),
		"Path to configuration file (env: CHAT_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CHAT_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: CHAT_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CHAT_LOG_FORMAT", ""),
		"Log format: json, text (env: CHAT_LOG_FORMAT)")

	flag.StringVar(&cfg.UserID, "user",
		getEnv("CHAT_USER_ID", ""),
		"User id to connect as (env: CHAT_USER_ID)")

	flag.StringVar(&cfg.Token, "token",
		getEnv("CHAT_TOKEN", ""),
		"Credential token (env: CHAT_TOKEN)")

	flag.StringVar(&cfg.MetricsAddr, "metrics-addr",
		getEnv("CHAT_METRICS_ADDR", ""),
		"Address to serve Prometheus metrics on, empty disables (env: CHAT_METRICS_ADDR)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", appName)
		fmt.Fprintf(os.Stderr, "Interactive chat client.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
