package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/GriffinCanCode/axiom/internal/infrastructure/config"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the environment
	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "Server port")
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "Server host")
	flag.StringVar(&cfg.Channel.Codec, "codec", cfg.Channel.Codec, "Default wire codec (json or cbor)")
	flag.StringVar(&cfg.Mounts.Manifest, "manifest", cfg.Mounts.Manifest, "YAML or TOML mount manifest")
	mounts := flag.String("mounts", strings.Join(cfg.Mounts.Names, ","), "Comma separated in-memory mounts")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "Development logging")
	flag.Parse()

	cfg.Mounts.Names = nil
	for _, name := range strings.Split(*mounts, ",") {
		if name = strings.TrimSpace(name); name != "" {
			cfg.Mounts.Names = append(cfg.Mounts.Names, name)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("Server error: %v", runErr)
	}
}
