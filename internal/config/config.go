// Package config loads the static pattern data: which signatures to
// resolve, what each one is called, and which header files to emit.
// Everything here is human-maintained; when the target binary updates
// and a signature drifts, this file is what gets fixed.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/s-hammon/patgen/internal/sig"
)

// Known to locate the game's version string across releases.
const (
	DefaultVersionPattern = "4C 8D 05 ? ? ? ? 45 89 BE 20 02 00 00"
	DefaultVersionOffset  = 3
)

// Item resolves to exactly one address: a signature, how many times
// it must match, which match to take, and (for pointers) the byte
// offset of the embedded displacement.
type Item struct {
	Name     string `json:"name,omitempty"`
	Pattern  string `json:"pattern"`
	Expected int    `json:"expected,omitempty"`
	Index    int    `json:"index,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

type Group struct {
	Name      string `json:"name,omitempty"`
	Pointers  []Item `json:"pointers,omitempty"`
	Functions []Item `json:"functions,omitempty"`
}

type Output struct {
	Filename  string  `json:"filename"`
	Namespace string  `json:"namespace"`
	Groups    []Group `json:"groups"`
}

// Version locates the target's version string and optionally bounds
// the versions these patterns are maintained for.
type Version struct {
	Pattern string `json:"pattern,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	Min     string `json:"min,omitempty"`
	Max     string `json:"max,omitempty"`
}

type File struct {
	Product string   `json:"product"`
	Source  string   `json:"source,omitempty"`
	Version Version  `json:"version"`
	Outputs []Output `json:"outputs"`
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %v", path, err)
	}

	f.applyDefaults(filepath.Base(path))
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}

	return &f, nil
}

func (f *File) applyDefaults(source string) {
	if f.Source == "" {
		f.Source = source
	}
	if f.Version.Pattern == "" {
		f.Version.Pattern = DefaultVersionPattern
		f.Version.Offset = DefaultVersionOffset
	}

	for i := range f.Outputs {
		for j := range f.Outputs[i].Groups {
			g := &f.Outputs[i].Groups[j]
			applyItemDefaults(g.Pointers)
			applyItemDefaults(g.Functions)
		}
	}
}

func applyItemDefaults(items []Item) {
	for i := range items {
		if items[i].Expected == 0 {
			items[i].Expected = 1
		}
	}
}

// Validate rejects defective static data before any scanning starts.
// A bad selection index or an unparseable signature is a maintenance
// mistake, not a runtime condition, so the whole run refuses to
// proceed rather than resolving entries against garbage.
func (f *File) Validate() error {
	if f.Product == "" {
		return fmt.Errorf("product is required")
	}
	if len(f.Outputs) == 0 {
		return fmt.Errorf("no outputs defined")
	}
	if _, err := sig.ParseSignature(f.Version.Pattern); err != nil {
		return fmt.Errorf("version pattern: %v", err)
	}

	for _, out := range f.Outputs {
		if out.Filename == "" {
			return fmt.Errorf("output with empty filename")
		}
		if out.Namespace == "" {
			return fmt.Errorf("output %q: namespace is required", out.Filename)
		}

		for _, g := range out.Groups {
			for _, it := range g.Pointers {
				if err := validateItem(it); err != nil {
					return fmt.Errorf("output %q, group %q: %v", out.Filename, g.Name, err)
				}
			}
			for _, it := range g.Functions {
				if err := validateItem(it); err != nil {
					return fmt.Errorf("output %q, group %q: %v", out.Filename, g.Name, err)
				}
			}
		}
	}

	return nil
}

func validateItem(it Item) error {
	if _, err := sig.ParseSignature(it.Pattern); err != nil {
		return fmt.Errorf("item %q: %v", it.Name, err)
	}
	if it.Expected < 1 {
		return fmt.Errorf("item %q: expected must be positive, got %d", it.Name, it.Expected)
	}
	if it.Index < 0 || it.Index >= it.Expected {
		return fmt.Errorf("item %q: index %d out of range for expected %d", it.Name, it.Index, it.Expected)
	}

	return nil
}
