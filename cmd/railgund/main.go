// Railgun Daemon - connects to PostgreSQL, tracks broadcaster fee gossip,
// and optionally connects to a proof-of-innocence aggregator. It does not
// sync the shielded pool or submit proof-of-innocence proofs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/railwayguild/railgun-go/internal/broadcaster"
	"github.com/railwayguild/railgun-go/internal/poi"
	"github.com/railwayguild/railgun-go/internal/storage"
	"github.com/railwayguild/railgun-go/internal/transport"
)

const (
	version = "0.1.0"
	banner  = `
 ____        _ _                   _
|  _ \ __ _ (_) |___ _   _ _ __   __| |
| |_) / _` + "`" + ` || | / __| | | | '_ \ / _` + "`" + ` |
|  _ < (_| || | \__ \ |_| | | | | (_| |
|_| \_\__,_|/ |_|___/\__,_|_| |_|\__,_|
          |__/
  railgund v%s
`
)

// Config holds node configuration.
type Config struct {
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	ListenAddr string
	ChainID    uint64
	PoiNodeURL string
}

func main() {
	cfg := parseFlags()
	fmt.Printf(banner, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DBHost, "db-host", "localhost", "PostgreSQL host")
	flag.IntVar(&cfg.DBPort, "db-port", 5432, "PostgreSQL port")
	flag.StringVar(&cfg.DBUser, "db-user", "railgun", "PostgreSQL user")
	flag.StringVar(&cfg.DBPassword, "db-password", "", "PostgreSQL password")
	flag.StringVar(&cfg.DBName, "db-name", "railgun", "PostgreSQL database name")

	flag.StringVar(&cfg.ListenAddr, "listen", "/ip4/0.0.0.0/tcp/9010", "P2P listen address")
	flag.Uint64Var(&cfg.ChainID, "chain-id", 1, "EVM chain id to track")
	flag.StringVar(&cfg.PoiNodeURL, "poi-node", "", "POI aggregator JSON-RPC URL (empty disables POI tracking)")

	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg *Config) error {
	fmt.Println("Connecting to database...")
	store, err := storage.NewPostgresStore(ctx, &storage.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  "disable",
		MaxConns: 20,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close()
	fmt.Println("Database connected.")

	fmt.Println("Starting gossip transport...")
	node, err := transport.NewGossipSubNode(ctx, &transport.Config{ListenAddrs: []string{cfg.ListenAddr}})
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer node.Close()
	fmt.Printf("Gossip node %s listening.\n", node.ID())

	fees := broadcaster.NewManager(cfg.ChainID, node)
	if err := fees.Start(ctx); err != nil {
		return fmt.Errorf("start broadcaster fee tracking: %w", err)
	}
	fmt.Printf("Tracking broadcaster fees on %s\n", broadcaster.FeeContentTopic(cfg.ChainID))

	var poiClient *poi.Client
	if cfg.PoiNodeURL != "" {
		poiClient, err = poi.NewClient(ctx, cfg.PoiNodeURL, cfg.ChainID)
		if err != nil {
			return fmt.Errorf("connect to poi node: %w", err)
		}
		fmt.Printf("Connected to POI aggregator, tracking lists: %v\n", poiClient.ListKeys())
	} else {
		fmt.Println("No POI node configured; proof-of-innocence submission disabled.")
	}

	fmt.Println("railgund started. Press Ctrl+C to stop.")
	<-ctx.Done()

	fmt.Println("railgund stopped.")
	return nil
}
