// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ServerConfig describes how to launch a language server.
type ServerConfig struct {
	// Language is the language identifier (e.g., "go", "rust").
	Language string

	// Command is the executable name or path.
	Command string

	// Args are command-line arguments to pass to the server.
	Args []string

	// Env holds extra KEY=VALUE environment entries for the server.
	Env []string

	// Extensions are file extensions this server handles (e.g., ".go").
	Extensions []string

	// RootFiles are files that indicate a project root (e.g., "go.mod").
	RootFiles []string

	// InitializationOptions are custom options passed during initialize.
	InitializationOptions interface{}

	// ShutdownGrace bounds the wait between SIGTERM and SIGKILL.
	ShutdownGrace time.Duration
}

// Registry holds the known language server presets.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	byLanguage map[string]ServerConfig
	byExt      map[string]string // extension -> language
}

// NewRegistry creates a registry with the built-in presets.
//
// Description:
//
//	Pre-populates presets for rust-analyzer, gopls, pyright,
//	typescript-language-server, clangd and jdtls. Every preset supports
//	textDocument/prepareCallHierarchy.
//
// Outputs:
//
//	*Registry - The configured registry
func NewRegistry() *Registry {
	r := &Registry{
		byLanguage: make(map[string]ServerConfig),
		byExt:      make(map[string]string),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	r.Register(ServerConfig{
		Language:   "rust",
		Command:    "rust-analyzer",
		Extensions: []string{".rs"},
		RootFiles:  []string{"Cargo.toml"},
	})

	r.Register(ServerConfig{
		Language:   "go",
		Command:    "gopls",
		Args:       []string{"serve"},
		Extensions: []string{".go"},
		RootFiles:  []string{"go.mod", "go.work"},
	})

	r.Register(ServerConfig{
		Language:   "python",
		Command:    "pyright-langserver",
		Args:       []string{"--stdio"},
		Extensions: []string{".py", ".pyi"},
		RootFiles:  []string{"pyproject.toml", "setup.py", "requirements.txt"},
	})

	r.Register(ServerConfig{
		Language:   "typescript",
		Command:    "typescript-language-server",
		Args:       []string{"--stdio"},
		Extensions: []string{".ts", ".tsx", ".js", ".jsx"},
		RootFiles:  []string{"tsconfig.json", "package.json"},
	})

	r.Register(ServerConfig{
		Language:   "cpp",
		Command:    "clangd",
		Extensions: []string{".c", ".h", ".cpp", ".cc", ".hpp"},
		RootFiles:  []string{"compile_commands.json", "CMakeLists.txt"},
	})

	r.Register(ServerConfig{
		Language:   "java",
		Command:    "jdtls",
		Extensions: []string{".java"},
		RootFiles:  []string{"pom.xml", "build.gradle", "build.gradle.kts"},
	})
}

// Register adds or replaces a preset and updates the extension mapping.
func (r *Registry) Register(cfg ServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[cfg.Language] = cfg
	for _, ext := range cfg.Extensions {
		r.byExt[ext] = cfg.Language
	}
}

// Get returns the preset for a language.
func (r *Registry) Get(language string) (ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byLanguage[language]
	return cfg, ok
}

// LanguageForFile returns the language handling path's extension, or "".
func (r *Registry) LanguageForFile(path string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byExt[strings.ToLower(filepath.Ext(path))]
}

// Languages returns the registered language identifiers, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Detect picks the preset whose root files exist in root.
//
// Description:
//
//	Languages are checked in sorted order, except rust which is checked
//	first, so the result is stable when a workspace has several root files.
//
// Outputs:
//
//	ServerConfig - The detected preset.
//	error - ErrUnsupportedLanguage if no root file matches.
func (r *Registry) Detect(root string) (ServerConfig, error) {
	langs := r.Languages()
	sort.SliceStable(langs, func(i, j int) bool {
		return langs[i] == "rust" && langs[j] != "rust"
	})

	for _, lang := range langs {
		cfg, _ := r.Get(lang)
		for _, name := range cfg.RootFiles {
			if _, err := os.Stat(filepath.Join(root, name)); err == nil {
				return cfg, nil
			}
		}
	}
	return ServerConfig{}, fmt.Errorf("%w: no project root file in %s", ErrUnsupportedLanguage, root)
}

// Resolve returns the preset for language, or detects one from root when
// language is empty.
func (r *Registry) Resolve(language, root string) (ServerConfig, error) {
	if language == "" {
		return r.Detect(root)
	}
	cfg, ok := r.Get(language)
	if !ok {
		return ServerConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return cfg, nil
}
