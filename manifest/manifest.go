// Package manifest handles chalkos.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a chalkos.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Scripts Scripts `toml:"scripts"`
	System  System  `toml:"system"`

	// Dir is the directory containing the chalkos.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Scripts configures script file locations and execution order.
type Scripts struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
	Order []string `toml:"order"`
}

// System seeds the runtime environment: UTS names and the accounting
// database location.
type System struct {
	HostName     string `toml:"hostname"`
	DomainName   string `toml:"domain"`
	AccountingDB string `toml:"accounting-db"`
}

// Load parses a chalkos.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "chalkos.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Scripts.Dirs) == 0 {
		m.Scripts.Dirs = []string{"scripts"}
	}
	if m.System.HostName == "" {
		m.System.HostName = "chalkos"
	}
	if m.System.DomainName == "" {
		m.System.DomainName = "local"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a chalkos.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "chalkos.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ScriptDirPaths returns absolute paths for the configured script directories.
func (m *Manifest) ScriptDirPaths() []string {
	var paths []string
	for _, d := range m.Scripts.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// AccountingDBPath returns the accounting database path, empty when
// accounting is disabled.
func (m *Manifest) AccountingDBPath() string {
	if m.System.AccountingDB == "" {
		return ""
	}
	if filepath.IsAbs(m.System.AccountingDB) {
		return m.System.AccountingDB
	}
	return filepath.Join(m.Dir, m.System.AccountingDB)
}

// EntryPath returns the absolute path of the entry script, empty when
// none is configured.
func (m *Manifest) EntryPath() string {
	if m.Scripts.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Scripts.Entry) {
		return m.Scripts.Entry
	}
	return filepath.Join(m.Dir, m.Scripts.Entry)
}
