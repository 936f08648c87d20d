// Package registry reads engine registries in the Nibbler engines.json
// format: a map from engine binary path to its launch arguments and UCI
// options. YAML registries with the same shape are also accepted.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Entry describes how to launch one engine.
type Entry struct {
	Args    []string       `json:"args" yaml:"args"`
	Options map[string]any `json:"options" yaml:"options"`
}

// OptionStrings renders the entry's UCI options as strings, the form
// "setoption" wants them in.
func (e Entry) OptionStrings() map[string]string {
	if len(e.Options) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Options))
	for k, v := range e.Options {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Registry maps engine binary paths to launch entries.
type Registry struct {
	entries map[string]Entry
}

// Load reads a registry file. Files ending in .yaml or .yml are parsed
// as YAML, everything else as JSON.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	entries := map[string]Entry{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, eris.Wrapf(err, "registry: parse yaml %s", path)
		}
	default:
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, eris.Wrapf(err, "registry: parse json %s", path)
		}
	}

	return &Registry{entries: entries}, nil
}

// Empty returns a registry with no entries. Resolve still succeeds and
// returns a bare entry for any path given.
func Empty() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Paths returns the registered engine paths in sorted order.
func (r *Registry) Paths() []string {
	paths := make([]string, 0, len(r.entries))
	for p := range r.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Resolve finds the entry for an engine given either its exact
// registered path or an unambiguous basename. An unregistered name
// that contains a path separator resolves to a bare entry, so literal
// binary paths work without a registry; a bare unknown name is a
// configuration error.
func (r *Registry) Resolve(name string) (string, Entry, error) {
	if e, ok := r.entries[name]; ok {
		return name, e, nil
	}

	var matches []string
	for p := range r.entries {
		if filepath.Base(p) == name {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		if filepath.Base(name) != name {
			return name, Entry{}, nil
		}
		return "", Entry{}, eris.Errorf("registry: engine %q not found", name)
	case 1:
		return matches[0], r.entries[matches[0]], nil
	default:
		sort.Strings(matches)
		return "", Entry{}, eris.Errorf(
			"registry: engine name %q is ambiguous, matches: %s",
			name, strings.Join(matches, ", "))
	}
}

// DefaultPath returns the conventional Nibbler engines.json location
// for the current platform.
func DefaultPath() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", eris.New("registry: APPDATA not set")
		}
		return filepath.Join(appData, "Nibbler", "engines.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", eris.Wrap(err, "registry: home directory")
	}
	return filepath.Join(home, ".config", "Nibbler", "engines.json"), nil
}
