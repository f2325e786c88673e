package logcfg

import (
	"os"

	logs "github.com/danmuck/smplog"
)

const envConfigPath = "SMPLOG_CONFIG"

// Load returns logging configuration from, in order: the explicit path, the
// SMPLOG_CONFIG file, the first well-known file that parses, or defaults.
func Load(explicit string) logs.Config {
	candidates := make([]string, 0, 4)
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	if path := os.Getenv(envConfigPath); path != "" {
		candidates = append(candidates, path)
	}
	candidates = append(candidates,
		"./smplog.config.toml",
		"./local/smplog.config.toml",
	)

	for _, path := range candidates {
		if cfg, err := logs.ConfigFromFile(path); err == nil {
			return cfg
		}
	}

	return logs.DefaultConfig()
}
