package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/memory-cache-proxy/internal/config"
	"github.com/iTrooz/memory-cache-proxy/internal/proxy"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	setupLogging(logrus.StandardLogger(), cfg)
	logrus.Debugf("Effective configuration:\n%s", cfg)

	server, err := proxy.New(cfg)
	if err != nil {
		logrus.Fatalf("Failed to create proxy server: %v", err)
	}

	if err := server.Start(); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

// setupLogging applies the configured level and format; cfg must be validated
func setupLogging(logger *logrus.Logger, cfg *config.Config) {
	level, err := cfg.GetLogLevel()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
