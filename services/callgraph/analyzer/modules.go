// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"
)

// moduleIndex maps a source file to the module it belongs to.
//
// Rust files map to a module path inside their crate (src/net/http.rs in
// crate app is net::http; src/main.rs and src/lib.rs are the crate itself).
// Go files map to their package import path. Manifests are looked up from
// the file's directory towards the workspace root and cached per directory.
type moduleIndex struct {
	root   string
	crates map[string]manifest
	gomods map[string]manifest
}

// manifest is the nearest manifest found for a directory.
type manifest struct {
	dir  string // directory holding the manifest, "" when none
	name string // crate name or module path
}

func newModuleIndex(root string) *moduleIndex {
	return &moduleIndex{
		root:   filepath.Clean(root),
		crates: make(map[string]manifest),
		gomods: make(map[string]manifest),
	}
}

// module returns the module of file, or "" when it cannot be derived.
func (m *moduleIndex) module(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".rs":
		return m.rustModule(file)
	case ".go":
		return m.goPackage(file)
	}
	return ""
}

func (m *moduleIndex) rustModule(file string) string {
	crate := m.nearest(filepath.Dir(file), "Cargo.toml", m.crates, crateName)
	crateDir := crate.dir
	if crateDir == "" {
		crateDir = m.root
	}
	if crate.name == "" {
		crate.name = sanitizeCrateName(filepath.Base(crateDir))
	}

	rel, err := filepath.Rel(crateDir, file)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 || parts[0] != "src" {
		return ""
	}
	parts = parts[1:]

	last := parts[len(parts)-1]
	switch {
	case len(parts) == 1 && (last == "main.rs" || last == "lib.rs"):
		return crate.name
	case last == "mod.rs":
		parts = parts[:len(parts)-1]
	default:
		parts[len(parts)-1] = strings.TrimSuffix(last, ".rs")
	}
	if len(parts) == 0 {
		return crate.name
	}
	return strings.Join(parts, "::")
}

func (m *moduleIndex) goPackage(file string) string {
	mod := m.nearest(filepath.Dir(file), "go.mod", m.gomods, goModulePath)
	if mod.dir == "" || mod.name == "" {
		return ""
	}
	rel, err := filepath.Rel(mod.dir, filepath.Dir(file))
	if err != nil {
		return ""
	}
	if rel == "." {
		return mod.name
	}
	return path.Join(mod.name, filepath.ToSlash(rel))
}

// nearest walks from dir up to the workspace root looking for a manifest
// file named base, and caches the answer for every directory visited.
func (m *moduleIndex) nearest(dir, base string, cache map[string]manifest, read func([]byte) string) manifest {
	var visited []string
	found := manifest{}
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		if hit, ok := cache[d]; ok {
			found = hit
			break
		}
		visited = append(visited, d)
		if data, err := os.ReadFile(filepath.Join(d, base)); err == nil {
			found = manifest{dir: d, name: read(data)}
			break
		}
		if d == m.root || !within(m.root, d) || d == filepath.Dir(d) {
			break
		}
	}
	for _, d := range visited {
		cache[d] = found
	}
	return found
}

func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// crateName reads [package].name from a Cargo.toml. Workspace manifests
// without a package yield "".
func crateName(data []byte) string {
	var cargo struct {
		Package struct {
			Name string `toml:"name"`
		} `toml:"package"`
	}
	if err := toml.Unmarshal(data, &cargo); err != nil {
		return ""
	}
	return sanitizeCrateName(cargo.Package.Name)
}

// sanitizeCrateName converts a package name to the identifier Rust code
// refers to it by.
func sanitizeCrateName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "-", "_")
}

func goModulePath(data []byte) string {
	return modfile.ModulePath(data)
}
