package fixture

import (
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"
)

// LoadConfig parses a HuJSON (JSON plus comments and trailing commas)
// workspace configuration, per SPEC_FULL.md's AMBIENT STACK section: the
// prefix binary config block spec.md §6 defines is fixed-format and
// machine-written, but the workspace's own poll-interval settings are
// operator-facing and benefit from a hand-editable, commented format.
func LoadConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("fixture: parsing workspace config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("fixture: decoding workspace config: %w", err)
	}
	return cfg, nil
}
