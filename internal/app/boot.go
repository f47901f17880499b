package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tn3270kit/internal/config"
	"tn3270kit/internal/logger"
	"tn3270kit/internal/registry"
	"tn3270kit/internal/store"
)

var (
	Config   *config.Config
	Store    *store.Store // nil when history is disabled
	Switches registry.SwitchStore
	Logger   *slog.Logger
)

const redisDialTimeout = 5 * time.Second

func Boot(configPath string, quiet bool) error {
	if configPath == "" {
		configPath = "config.yml"
	}

	// Load the configuration
	newConfig, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	newLogger := logger.Setup(newConfig.Loggers, newConfig.Debug, quiet)

	var newStore *store.Store
	if newConfig.History.Enabled {
		newStore, err = store.New(newConfig.History.Path, quiet || !newConfig.Debug)
		if err != nil {
			return fmt.Errorf("failed to open the history database: %w", err)
		}
	}

	var newSwitches registry.SwitchStore = registry.NewMemorySwitchStore()
	if redisCfg := newConfig.SwitchStore.Redis; redisCfg.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
		rs, err := registry.NewRedisSwitchStore(ctx, redisCfg.Addr, redisCfg.Password, redisCfg.DB)
		cancel()
		if err != nil {
			if newStore != nil {
				newStore.Close()
			}
			return fmt.Errorf("failed to connect to the switch store: %w", err)
		}
		newSwitches = rs
	}

	// If all successful, swap globals and cleanup.
	Shutdown()
	Config = newConfig
	Logger = newLogger
	Store = newStore
	Switches = newSwitches
	slog.SetDefault(Logger)

	if !quiet {
		Logger.Info("Successfully loaded configuration", "file", configPath)
	}

	return nil
}

// NewRegistry builds the LU pool for the current target configuration.
func NewRegistry() *registry.Registry {
	t := Config.Target
	return registry.New(t.LUPoolSize, t.LUPrefix, t.SystemName, Switches)
}

// Shutdown closes the store and switch store opened by the last Boot.
func Shutdown() {
	if Store != nil {
		if err := Store.Close(); err != nil {
			Logger.Error("Failed to close existing store", "err", err)
		}
		Store = nil
	}
	if rs, ok := Switches.(*registry.RedisSwitchStore); ok {
		if err := rs.Close(); err != nil {
			Logger.Error("Failed to close switch store", "err", err)
		}
	}
	Switches = nil
}
