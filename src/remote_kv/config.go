package remote_kv

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListenAddress = "localhost:7400"
	DefaultBatchSize     = 200
)

// ServiceConfig controls a Service. It decodes from TOML:
//
//	listen     = "0.0.0.0:7400"
//	shards     = ["10.0.0.1:7401", "10.0.0.2:7401"]
//	workers    = 8
//	queue_size = 0
//	snapshot   = "./local/snapshot.toml"
type ServiceConfig struct {
	ListenAddress  string   `toml:"listen"`     // local address the request channel listens on
	ShardAddresses []string `toml:"shards"`     // response address per shard, indexed by shard id
	Workers        int      `toml:"workers"`    // worker goroutines, <= 0 uses runtime.NumCPU()
	QueueSize      int      `toml:"queue_size"` // 0 = unbounded task queue
	SnapshotPath   string   `toml:"snapshot"`   // optional TOML snapshot loaded at startup

	// OnTaskError observes every failed task in addition to the error log.
	OnTaskError func(error) `toml:"-"`
}

// DefaultConfig returns a ServiceConfig with an unbounded queue and one
// worker per CPU.
func DefaultConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddress: DefaultListenAddress,
		Workers:       0,
		QueueSize:     0,
	}
}

// LoadConfig overlays the TOML file at path onto DefaultConfig and validates
// the result.
func LoadConfig(path string) (ServiceConfig, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ReadConfig is LoadConfig without validation, for callers that still apply
// overrides. Unknown keys are an error.
func ReadConfig(path string) (ServiceConfig, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return cfg, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (c ServiceConfig) Validate() error {
	if len(c.ShardAddresses) == 0 {
		return fmt.Errorf("no shard addresses configured")
	}
	seen := make(map[string]int, len(c.ShardAddresses))
	for id, addr := range c.ShardAddresses {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("shard %d: empty address", id)
		}
		if prev, dup := seen[addr]; dup {
			return fmt.Errorf("shard %d: address %s already used by shard %d", id, addr, prev)
		}
		seen[addr] = id
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be >= 0, got %d", c.QueueSize)
	}
	return nil
}

// ClientConfig controls a Client.
type ClientConfig struct {
	BatchSize int `toml:"batch_size"` // keys per request
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{BatchSize: DefaultBatchSize}
}
