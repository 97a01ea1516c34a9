package pathdiscovery

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blobcache/blobcache/internal/cacheerr"
)

// OverrideFileName is an optional, hand-editable YAML sidecar sitting
// next to the database file. It never affects correctness — only tuning
// knobs a caller could equally have passed as Options — so a missing or
// absent file is not an error, unlike the JSON metadata sidecar.
const OverrideFileName = "cache.yaml"

// Override is the subset of blobcache.Option values an operator can tune
// without recompiling the embedding application, analogous to the
// source's per-project local-config YAML file.
type Override struct {
	IdleFlush    time.Duration `yaml:"idle_flush,omitempty"`
	VacuumOnOpen bool          `yaml:"vacuum_on_open,omitempty"`
}

// LoadOverride reads path if present. A missing file returns a zero
// Override and no error — overrides are opt-in.
func LoadOverride(path string) (Override, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from a validated application name
	if err != nil {
		if os.IsNotExist(err) {
			return Override{}, nil
		}
		return Override{}, cacheerr.Wrapf(err, "pathdiscovery.LoadOverride: read %s", path)
	}
	var o Override
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Override{}, cacheerr.Wrapf(err, "pathdiscovery.LoadOverride: parse %s", path)
	}
	return o, nil
}
