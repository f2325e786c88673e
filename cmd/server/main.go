package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/remote_kv/cmd/internal/logcfg"
	"github.com/danmuck/remote_kv/src/api/transport"
	"github.com/danmuck/remote_kv/src/remote_kv"
	"github.com/danmuck/remote_kv/src/state_view"
	logs "github.com/danmuck/smplog"
)

func main() {
	opts, err := parseCLI(os.Args[1:])
	if err != nil {
		fmt.Printf("Error: %v\n\n", err)
		printUsage()
		os.Exit(1)
	}
	logs.Configure(logcfg.Load(opts.LogConfig))

	cfg, err := resolveConfig(opts)
	if err != nil {
		logs.Fatalf(err, "Failed to load service config")
	}

	ctrl := transport.NewTCPController(cfg.ListenAddress)
	svc, err := remote_kv.New(ctrl, cfg)
	if err != nil {
		logs.Fatalf(err, "Failed to create remote kv service")
	}
	for _, shard := range svc.Shards() {
		logs.Infof("shard %d -> %s", shard.ID, shard.Address)
	}

	if cfg.SnapshotPath != "" {
		if err := installSnapshot(svc, cfg.SnapshotPath); err != nil {
			logs.Fatalf(err, "Failed to load initial snapshot")
		}
	} else {
		logs.Warnf("no snapshot configured: requests fail until one is installed (send SIGHUP after setting --snapshot)")
	}

	if err := ctrl.ListenAndAccept(); err != nil {
		logs.Fatalf(err, "Failed to listen")
	}
	logs.Infof("remote kv service listening on %s", ctrl.Address())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP reloads the snapshot file
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if cfg.SnapshotPath == "" {
				logs.Warnf("SIGHUP ignored: no snapshot path configured")
				continue
			}
			if err := installSnapshot(svc, cfg.SnapshotPath); err != nil {
				logs.Errorf(err, "Snapshot reload failed, keeping version %d", svc.Stats().SnapshotVer)
			}
		}
	}()

	err = svc.Start(ctx)
	stats := shutdown(svc, ctrl)
	logs.Infof("served %d/%d requests (%d keys, %d absent, %d failed)",
		stats.Served, stats.Received, stats.KeysServed, stats.KeysAbsent, stats.Failed)

	if errors.Is(err, context.Canceled) {
		logs.Println("remote kv service stopped")
		return
	}
	logs.Fatalf(err, "Dispatch loop terminated")
}

func installSnapshot(svc *remote_kv.Service, path string) error {
	snap, err := state_view.LoadSnapshotFile(path)
	if err != nil {
		return err
	}
	version := svc.SetStateView(snap)
	logs.Infof("snapshot %q (%d keys) is version %d", snap.Label(), snap.Len(), version)
	return nil
}

// shutdown drains queued requests while the response channels are still
// open, then closes the fabric.
func shutdown(svc *remote_kv.Service, fabric transport.Fabric) remote_kv.ServiceStats {
	svc.Close()
	if err := fabric.Close(); err != nil {
		logs.Warnf("closing transport: %v", err)
	}
	return svc.Stats()
}
