package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"tn3270kit/internal/app"
	"tn3270kit/internal/apps"
	"tn3270kit/internal/obs"
	"tn3270kit/internal/relay"
	"tn3270kit/internal/target"
)

var serveCmd = &cobra.Command{
	Use:    "serve",
	Short:  "Start the test target, and the relay when enabled",
	PreRun: bootApp,
	Run:    startServer,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Start only the STARTTLS relay",
	PreRun: func(cmd *cobra.Command, args []string) {
		afterBoot = relayOnly
		bootApp(cmd, args)
	},
	Run: startServer,
}

var relayHost string

// afterBoot adjusts the configuration after every (re)load.
var afterBoot = func() {}

func init() {
	relayCmd.Flags().StringVar(&relayHost, "host", "", "host:port to relay to (overrides relay.host)")
}

func relayOnly() {
	app.Config.Target.Enabled = false
	app.Config.Relay.Enabled = true
	if relayHost != "" {
		app.Config.Relay.Host = relayHost
	}
}

func bootApp(cmd *cobra.Command, args []string) {
	if err := boot(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func boot() error {
	if err := app.Boot(cfgFile, false); err != nil {
		return err
	}
	afterBoot()
	return nil
}

// relPath makes path relative to the working directory for cleaner logging.
func relPath(path string) string {
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(cwd, path); err == nil {
			return rel
		}
	}
	return path
}

func watchConfig(restart chan<- struct{}) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		app.Logger.Error("Failed to create watcher", "err", err)
		return nil
	}

	// Watch all loaded config files
	for _, file := range app.Config.LoadedFiles {
		if err := watcher.Add(file); err != nil {
			app.Logger.Error("Failed to watch config file", "file", relPath(file), "err", err)
		} else {
			app.Logger.Debug("Watching config file", "file", relPath(file))
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					app.Logger.Info("Config file modified, reloading...", "file", relPath(event.Name))
					select {
					case restart <- struct{}{}:
					default:
						// restart pending
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				app.Logger.Error("Watcher error", "err", err)
			}
		}
	}()
	return watcher
}

type listener interface {
	ListenAndServe(ctx context.Context) error
}

func startServer(cmd *cobra.Command, args []string) {
	restartChan := make(chan struct{}, 1)
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	defer app.Shutdown()

	for {
		var watcher *fsnotify.Watcher
		if app.Config.HotReload {
			watcher = watchConfig(restartChan)
		}

		ctx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		run := func(name string, l listener) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := l.ListenAndServe(ctx); err != nil {
					app.Logger.Error("Listener stopped", "listener", name, "err", err)
				}
			}()
		}

		var metrics *obs.Server
		if app.Config.Metrics.Enabled {
			metrics = &obs.Server{Address: app.Config.Metrics.Address, Logger: app.Logger}
			run("metrics", metrics)
		}

		started := 0
		if app.Config.Target.Enabled {
			srv, err := target.New(app.Config.Target, app.NewRegistry(), apps.Builtin(), app.Store, app.Logger)
			if err != nil {
				app.Logger.Error("Target not started", "err", err)
			} else {
				run("target", srv)
				started++
			}
		}
		if app.Config.Relay.Enabled {
			r, err := relay.New(app.Config.Relay, app.Store, app.Logger)
			if err != nil {
				app.Logger.Error("Relay not started", "err", err)
			} else {
				run("relay", r)
				started++
			}
		}

		if started == 0 {
			app.Logger.Warn("No listeners enabled.")
		}
		if metrics != nil {
			metrics.SetReady(started > 0)
		}

		// Wait for stop or restart
		select {
		case <-stopChan:
			app.Logger.Info("Shutting down...")
			cancel()
			if watcher != nil {
				watcher.Close()
			}
			wg.Wait()
			return

		case <-restartChan:
			cancel()
			if watcher != nil {
				watcher.Close()
			}

			// Wait for servers to stop
			wg.Wait()

			// Reload Config
			if err := boot(); err != nil {
				app.Logger.Error("Failed to reload config", "err", err)
				// We continue with the existing config because Boot did
				// not swap it on failure.
			}
		}
	}
}
