package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/remote_kv/src/remote_kv"
)

const (
	CONFIG_FLAG     = "--config"
	LISTEN_FLAG     = "--listen"
	SHARDS_FLAG     = "--shards"
	WORKERS_FLAG    = "--workers"
	QUEUE_SIZE_FLAG = "--queue-size"
	SNAPSHOT_FLAG   = "--snapshot"
	LOG_CONFIG_FLAG = "--log-config"
)

const defaultConfigPath = "./local/remote_kv.toml"

// RuntimeOptions are the command line overrides; nil/empty means "not given".
type RuntimeOptions struct {
	ConfigPath string
	LogConfig  string
	Listen     string
	Shards     []string
	Workers    *int
	QueueSize  *int
	Snapshot   string
}

func parseCLI(args []string) (RuntimeOptions, error) {
	var opts RuntimeOptions

	for i := 0; i < len(args); i++ {
		arg := args[i]
		flag, value, hasValue := strings.Cut(arg, "=")

		switch flag {
		case CONFIG_FLAG, LISTEN_FLAG, SHARDS_FLAG, WORKERS_FLAG, QUEUE_SIZE_FLAG, SNAPSHOT_FLAG, LOG_CONFIG_FLAG:
		default:
			return opts, fmt.Errorf("unsupported argument %q", arg)
		}

		if !hasValue {
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value after %q", flag)
			}
			i++
			value = args[i]
		}
		value = strings.TrimSpace(value)

		switch flag {
		case CONFIG_FLAG:
			opts.ConfigPath = value
		case LOG_CONFIG_FLAG:
			opts.LogConfig = value
		case LISTEN_FLAG:
			opts.Listen = value
		case SNAPSHOT_FLAG:
			opts.Snapshot = value
		case SHARDS_FLAG:
			opts.Shards = nil
			for _, addr := range strings.Split(value, ",") {
				opts.Shards = append(opts.Shards, strings.TrimSpace(addr))
			}
		case WORKERS_FLAG:
			n, err := strconv.Atoi(value)
			if err != nil {
				return opts, fmt.Errorf("invalid %s value %q: %w", flag, value, err)
			}
			opts.Workers = &n
		case QUEUE_SIZE_FLAG:
			n, err := strconv.Atoi(value)
			if err != nil {
				return opts, fmt.Errorf("invalid %s value %q: %w", flag, value, err)
			}
			if n < 0 {
				return opts, fmt.Errorf("%s must be >= 0", flag)
			}
			opts.QueueSize = &n
		}
	}

	return opts, nil
}

// resolveConfig loads the TOML config (when there is one) and applies the
// command line overrides on top.
func resolveConfig(opts RuntimeOptions) (remote_kv.ServiceConfig, error) {
	cfg := remote_kv.DefaultConfig()

	switch {
	case opts.ConfigPath != "":
		loaded, err := remote_kv.ReadConfig(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	case len(opts.Shards) == 0:
		loaded, err := remote_kv.ReadConfig(defaultConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if opts.Listen != "" {
		cfg.ListenAddress = opts.Listen
	}
	if len(opts.Shards) > 0 {
		cfg.ShardAddresses = opts.Shards
	}
	if opts.Workers != nil {
		cfg.Workers = *opts.Workers
	}
	if opts.QueueSize != nil {
		cfg.QueueSize = *opts.QueueSize
	}
	if opts.Snapshot != "" {
		cfg.SnapshotPath = opts.Snapshot
	}

	return cfg, cfg.Validate()
}

func printUsage() {
	fmt.Printf("Usage: server [%s PATH] [%s ADDR] [%s A,B,C] [%s N] [%s N] [%s PATH] [%s PATH]\n",
		CONFIG_FLAG, LISTEN_FLAG, SHARDS_FLAG, WORKERS_FLAG, QUEUE_SIZE_FLAG, SNAPSHOT_FLAG, LOG_CONFIG_FLAG)
	fmt.Printf("Without %s or %s the config is read from %s.\n", CONFIG_FLAG, SHARDS_FLAG, defaultConfigPath)
	fmt.Printf("Listen address defaults to %s.\n", remote_kv.DefaultListenAddress)
	fmt.Printf("Workers default to one per CPU; %s 0 keeps the task queue unbounded.\n", QUEUE_SIZE_FLAG)
	fmt.Println("Shard ids are positions in the shard list. SIGHUP reloads the snapshot file.")
}
