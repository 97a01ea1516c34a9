// Package pathdiscovery locates and bootstraps the on-disk directory a
// named cache lives in, and maintains its blobcache.meta.json sidecar — the Go
// equivalent of the source library's per-application cache directory
// convention (spec.md §4.13's "application name and directory" scoping).
package pathdiscovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/blobcache/blobcache/internal/primitives"
)

// MetadataFileName is the sidecar recording bookkeeping about the cache
// directory itself, not any cached entry.
const MetadataFileName = "blobcache.meta.json"

// Metadata is the persisted sidecar content.
type Metadata struct {
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	LastVacuum    time.Time `json:"last_vacuum,omitempty"`
}

const currentSchemaVersion = 1

// Layout resolves the on-disk paths for one named cache.
type Layout struct {
	Dir          string
	DatabasePath string
	MetadataPath string
	OverridePath string
}

// Discover validates applicationName and resolves the directory it
// should live under beneath baseDir (typically os.UserCacheDir()),
// creating the directory and an initial blobcache.meta.json if absent.
//
// Adapted from the source's configfile package: a JSON sidecar living
// alongside the data file, loaded on open and rewritten on meaningful
// state changes, rather than a separate embedded-database metadata
// table.
func Discover(baseDir, applicationName string) (*Layout, error) {
	if err := primitives.ValidateName(applicationName); err != nil {
		return nil, cacheerr.Wrap("pathdiscovery.Discover", err)
	}
	dir, err := primitives.SafePathCombine(baseDir, applicationName)
	if err != nil {
		return nil, cacheerr.Wrap("pathdiscovery.Discover", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cacheerr.Wrapf(err, "pathdiscovery.Discover: mkdir %s", dir)
	}

	layout := &Layout{
		Dir:          dir,
		DatabasePath: filepath.Join(dir, "blobcache.db"),
		MetadataPath: filepath.Join(dir, MetadataFileName),
		OverridePath: filepath.Join(dir, OverrideFileName),
	}

	if _, err := LoadMetadata(layout.MetadataPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		meta := &Metadata{SchemaVersion: currentSchemaVersion, CreatedAt: time.Now().UTC()}
		if err := SaveMetadata(layout.MetadataPath, meta); err != nil {
			return nil, err
		}
	}
	return layout, nil
}

// LoadMetadata reads and parses the sidecar at path. A missing file
// returns the underlying os.IsNotExist error unwrapped, so callers can
// distinguish "not yet created" from "corrupt".
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from a validated application name
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, cacheerr.Wrapf(err, "pathdiscovery.LoadMetadata: parse %s", path)
	}
	return &meta, nil
}

// SaveMetadata writes meta to path atomically via a temp-file rename, so
// a crash mid-write never leaves a truncated sidecar.
func SaveMetadata(path string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return cacheerr.Wrap("pathdiscovery.SaveMetadata: marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return cacheerr.Wrapf(err, "pathdiscovery.SaveMetadata: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return cacheerr.Wrapf(err, "pathdiscovery.SaveMetadata: rename %s", path)
	}
	return nil
}

// RecordVacuum updates the sidecar's LastVacuum timestamp. Best-effort:
// bookkeeping failures here are logged by the caller, never fatal to the
// Vacuum operation itself.
func RecordVacuum(layout *Layout, at time.Time) error {
	meta, err := LoadMetadata(layout.MetadataPath)
	if err != nil {
		return fmt.Errorf("pathdiscovery.RecordVacuum: load: %w", err)
	}
	meta.LastVacuum = at
	return SaveMetadata(layout.MetadataPath, meta)
}
