package main

import (
	"flag"

	"whatsapp-hub/internal/config"
	"whatsapp-hub/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	flag.Parse()

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			panic(err)
		}
		cfg = loaded
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Path, cfg.Logging.Level); err != nil {
		panic(err)
	}
	defer logger.Info("Server shutting down")

	// Setup and start server
	srv, err := SetupServer(cfg)
	if err != nil {
		logger.Fatal("Failed to setup server", zap.Error(err))
	}

	if err := StartServer(srv); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}
