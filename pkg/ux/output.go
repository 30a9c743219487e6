// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the callgraph CLI.
package ux

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Palette, deep ocean teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a themed status icon.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Render returns the icon with appropriate styling.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes CLI output at one personality level.
type Printer struct {
	w     io.Writer
	level PersonalityLevel
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, level PersonalityLevel) *Printer {
	return &Printer{w: w, level: level}
}

// Level returns the printer's personality level.
func (p *Printer) Level() PersonalityLevel { return p.level }

// Success prints a success message with a checkmark.
func (p *Printer) Success(text string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.w, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.w, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s\n", IconWarning, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "%s %s\n", IconError, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.level == PersonalityMachine {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

// RunSummary describes one graph run for display.
type RunSummary struct {
	Entry     string
	Direction string
	Format    string
	Path      string
	Nodes     int
	Edges     int
	Groups    int
	Partial   bool
	Reason    string
	Duration  time.Duration
}

// Summary prints a run summary. Machine output is one key=value line.
func (p *Printer) Summary(s RunSummary) {
	status := "ok"
	if s.Partial {
		status = "partial"
	}
	if p.level == PersonalityMachine {
		fmt.Fprintf(p.w, "SUMMARY: status=%s entry=%s direction=%s format=%s nodes=%d edges=%d groups=%d duration_ms=%d path=%s\n",
			status, s.Entry, s.Direction, s.Format, s.Nodes, s.Edges, s.Groups, s.Duration.Milliseconds(), s.Path)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", s.Entry, IconArrow, s.Direction)
	fmt.Fprintf(&b, "%s nodes  %s edges  %s groups\n",
		Styles.Bold.Render(fmt.Sprint(s.Nodes)),
		Styles.Bold.Render(fmt.Sprint(s.Edges)),
		Styles.Bold.Render(fmt.Sprint(s.Groups)))
	if s.Path != "" {
		fmt.Fprintf(&b, "%s %s", Styles.Muted.Render(s.Format), s.Path)
	} else {
		b.WriteString(Styles.Muted.Render(s.Format))
	}
	fmt.Fprintf(&b, "  %s", Styles.Muted.Render(s.Duration.Round(time.Millisecond).String()))

	if p.level == PersonalityMinimal {
		fmt.Fprintln(p.w, b.String())
		return
	}
	if s.Partial {
		body := Styles.Warning.Bold(true).Render("Partial call graph") + "\n" + b.String()
		if s.Reason != "" {
			body += "\n" + Styles.Muted.Render(s.Reason)
		}
		fmt.Fprintln(p.w, Styles.WarningBox.Render(body))
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render("Call graph")+"\n"+b.String()))
}

// Row is one line of a Table.
type Row []string

// Table prints rows in aligned columns under a header.
func (p *Printer) Table(header Row, rows []Row) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	if p.level != PersonalityMachine {
		cells := make([]string, len(header))
		for i, h := range header {
			cells[i] = Styles.Bold.Render(h)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}
