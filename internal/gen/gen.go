// Package gen turns resolved addresses into generated C++ headers.
// One bad signature never stops the batch: failed entries become
// inline #error directives so the downstream build, not this tool, is
// what surfaces a stale pattern to a human.
package gen

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/apex/log"
	semver "github.com/hashicorp/go-version"
	"github.com/s-hammon/p"
	"github.com/s-hammon/patgen/internal/config"
	"github.com/s-hammon/patgen/internal/scan"
)

// ErrVersionNotFound aborts a whole run: without a verified target
// version nothing in the output can be trustworthy-labeled.
var ErrVersionNotFound = errors.New("version pattern not resolved")

type Generator struct {
	sc  *scan.Scanner
	cfg *config.File
	now func() time.Time
}

func New(sc *scan.Scanner, cfg *config.File) *Generator {
	return &Generator{sc: sc, cfg: cfg, now: time.Now}
}

// Run resolves every output against the image and writes one header
// file per output into dir.
func (g *Generator) Run(dir string) error {
	ver, err := g.version()
	if err != nil {
		return err
	}

	log.WithField("version", ver).Info("identified target binary")
	g.checkVersionRange(ver)

	date := g.now().Format("2006-01-02")
	for _, out := range g.cfg.Outputs {
		path := filepath.Join(dir, out.Filename)
		log.WithField("file", path).Info("processing")

		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := g.writeOutput(f, out, ver, date); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %v", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	log.Info("done")
	return nil
}

func (g *Generator) version() (string, error) {
	v := g.cfg.Version
	addr, err := g.sc.FindPtr(v.Pattern, 1, 0, v.Offset)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVersionNotFound, err)
	}

	raw, err := g.sc.ReadCString(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVersionNotFound, err)
	}

	return string(raw), nil
}

// checkVersionRange warns when the scanned binary falls outside the
// versions the pattern data is maintained for. Warn only: patterns
// that still resolve are still useful on a newer build.
func (g *Generator) checkVersionRange(ver string) {
	v := g.cfg.Version
	if v.Min == "" && v.Max == "" {
		return
	}

	cur, err := semver.NewVersion(ver)
	if err != nil {
		log.WithField("version", ver).Warn("target version is not semver, skipping range check")
		return
	}

	if v.Min != "" {
		if minVer, err := semver.NewVersion(v.Min); err == nil && cur.LessThan(minVer) {
			log.Warnf("target v.%s is older than supported minimum v.%s", ver, v.Min)
		}
	}
	if v.Max != "" {
		if maxVer, err := semver.NewVersion(v.Max); err == nil && cur.GreaterThan(maxVer) {
			log.Warnf("target v.%s is newer than supported maximum v.%s", ver, v.Max)
		}
	}
}

func (g *Generator) writeOutput(w io.Writer, out config.Output, ver, date string) error {
	fmt.Fprintf(w, "// This file is generated. DO NOT MODIFY IT!\n")
	fmt.Fprintf(w, "// Created on %s for %s v.%s.\n", date, g.cfg.Product, ver)
	fmt.Fprintf(w, "// Define patterns in %q and run \"patgen\" to update.\n", g.cfg.Source)
	fmt.Fprintf(w, "\n#pragma once\n\n#include <cstdint>\n\n")
	fmt.Fprintf(w, "namespace %s\n{\n", out.Namespace)
	fmt.Fprintf(w, "constexpr uintptr_t ImageBase = 0x%X;\n\n", g.sc.Base())

	groups := slices.Clone(out.Groups)
	slices.SortStableFunc(groups, func(a, b config.Group) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	for i, group := range groups {
		for _, it := range group.Pointers {
			if err := g.writePointer(w, group.Name, it); err != nil {
				return err
			}
		}
		for _, it := range group.Functions {
			if err := g.writeFunction(w, group.Name, it); err != nil {
				return err
			}
		}

		if i != len(groups)-1 {
			fmt.Fprintln(w)
		}
	}

	fmt.Fprintf(w, "}\n")
	return nil
}

func (g *Generator) writePointer(w io.Writer, groupName string, it config.Item) error {
	addr, err := g.sc.FindPtr(it.Pattern, it.Expected, it.Index, it.Offset)
	if recoverable(err) {
		log.WithError(err).Warn("pointer not resolved")
		fmt.Fprintf(w, "#error Could not find pattern \"%s\", expected: %d, index: %d, offset: %d\n",
			it.Pattern, it.Expected, it.Index, it.Offset)
		return nil
	}
	if err != nil {
		return err
	}

	name := it.Name
	if name == "" {
		name = p.Format("ptr_%X", addr)
	}

	fmt.Fprintf(w, "constexpr uintptr_t %s = 0x%X - ImageBase; // %s, expected: %d, index: %d, offset: %d\n",
		qualify(groupName, name), addr, it.Pattern, it.Expected, it.Index, it.Offset)
	return nil
}

func (g *Generator) writeFunction(w io.Writer, groupName string, it config.Item) error {
	addr, err := g.sc.Find(it.Pattern, it.Expected, it.Index)
	if recoverable(err) {
		log.WithError(err).Warn("function not resolved")
		fmt.Fprintf(w, "#error Could not find pattern \"%s\", expected: %d, index: %d\n",
			it.Pattern, it.Expected, it.Index)
		return nil
	}
	if err != nil {
		return err
	}

	name := it.Name
	if name == "" {
		name = p.Format("sub_%X", addr)
	}

	fmt.Fprintf(w, "constexpr uintptr_t %s = 0x%X - ImageBase; // %s, expected: %d, index: %d\n",
		qualify(groupName, name), addr, it.Pattern, it.Expected, it.Index)
	return nil
}

// recoverable reports whether the failure is local to one entry. A
// cardinality mismatch degrades to an #error line; anything else
// (accessor I/O) invalidates the run.
func recoverable(err error) bool {
	var cerr *scan.CardinalityError
	return errors.As(err, &cerr)
}

func qualify(groupName, name string) string {
	if groupName == "" {
		return name
	}
	return groupName + "_" + name
}
