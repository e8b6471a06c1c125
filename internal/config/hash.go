package config

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// hashConfig returns a stable hash of the decoded config, so whitespace or
// key-order edits do not count as changes. nil hashes to 0.
func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	return xxhash.Sum64(b)
}
