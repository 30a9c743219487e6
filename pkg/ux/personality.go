// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// PersonalityLevel defines the richness of CLI output.
type PersonalityLevel string

const (
	// PersonalityStandard enables colors, icons and boxes.
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal uses icons and basic formatting only.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs plain key=value lines for scripting.
	PersonalityMachine PersonalityLevel = "machine"
)

// EnvPersonality overrides the detected level.
const EnvPersonality = "CALLGRAPH_OUTPUT"

// ParsePersonalityLevel converts a string to a PersonalityLevel. Unknown
// values map to standard.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(s) {
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "plain", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// DetectPersonality picks a level for w: an explicit flag value wins, then
// CALLGRAPH_OUTPUT, then standard on a terminal and machine otherwise.
func DetectPersonality(flag string, w io.Writer) PersonalityLevel {
	if flag != "" {
		return ParsePersonalityLevel(flag)
	}
	if env := os.Getenv(EnvPersonality); env != "" {
		return ParsePersonalityLevel(env)
	}
	if isTerminal(w) {
		return PersonalityStandard
	}
	return PersonalityMachine
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
