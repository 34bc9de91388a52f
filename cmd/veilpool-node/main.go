package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilpool/veilpool-node/api"
	"github.com/veilpool/veilpool-node/assets"
	"github.com/veilpool/veilpool-node/circuits"
	"github.com/veilpool/veilpool-node/config"
	"github.com/veilpool/veilpool-node/db/metadb"
	"github.com/veilpool/veilpool-node/gate"
	"github.com/veilpool/veilpool-node/log"
)

// vaultAddress is the in-process account pooled value is held and paid out
// from.
var vaultAddress = common.HexToAddress("0x00000000000000000000000000000000000a0171")

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output)
	log.Infow("starting veilpool-node", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if !common.IsHexAddress(cfg.Admin) {
		log.Fatalf("Invalid admin address %q", cfg.Admin)
	}
	admin := common.HexToAddress(cfg.Admin)

	// Pool-set configuration: file if given, built-in set otherwise.
	var poolSet *config.Config
	if cfg.Pools != "" {
		poolSet, err = config.Load(cfg.Pools)
		if err != nil {
			log.Fatalf("Failed to load pool configuration: %v", err)
		}
	} else {
		poolSet = config.Default(admin)
	}

	if err := os.MkdirAll(cfg.Datadir, 0o750); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	database, err := metadb.New(cfg.DBType, filepath.Join(cfg.Datadir, "veilpool"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Warnw("failed to close database", "error", err.Error())
		}
	}()

	// In-process circuit setup; production deployments load ceremony keys
	// instead.
	_, _, verifier, err := circuits.DevSetup()
	if err != nil {
		log.Fatalf("Failed to set up withdrawal circuit: %v", err)
	}

	// The vault escrows the pooled value: each deposit credits it with the
	// attached value, fees and withdrawal payouts are sent out of it.
	book := assets.NewBook()
	vault := book.AccountOf(vaultAddress)

	g, err := gate.New(gate.Config{
		DB:       database,
		Admin:    poolSet.Admin,
		Oracle:   gate.NewStaticOracle(),
		Token:    book.Tokens(),
		Assets:   vault,
		Verifier: verifier,
		Pools:    poolSet.Pools,
	})
	if err != nil {
		log.Fatalf("Failed to create access gate: %v", err)
	}

	if _, err := api.New(&api.APIConfig{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Gate: g,
	}); err != nil {
		log.Fatalf("Failed to start API: %v", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}
