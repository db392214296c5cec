// Package ui renders human-facing compiler output on stderr with lipgloss
// styles. Machine-readable records go to the telemetry stream instead.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Semantic color palette.
var (
	colorPrimary = lipgloss.Color("#00BFFF") // Cyan: headings
	colorAccent  = lipgloss.Color("#FFD700") // Gold: warnings
	colorSuccess = lipgloss.Color("#00E676") // Green: completed
	colorDanger  = lipgloss.Color("#FF5252") // Red: failures
	colorMuted   = lipgloss.Color("#8C8C8C") // Gray: de-emphasized
)

// Status icons.
const (
	iconDone   = "✓"
	iconFailed = "✗"
	iconWarn   = "⚠"
	iconItem   = "•"
)

type styles struct {
	heading lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	danger  lipgloss.Style
	muted   lipgloss.Style
	bold    lipgloss.Style
}

// Printer writes styled output. Color is detected from the writer, so output
// captured into a buffer is plain text.
type Printer struct {
	w io.Writer
	s styles
}

// New creates a Printer on stderr.
func New() *Printer {
	return NewWriter(os.Stderr)
}

// NewWriter creates a Printer on w.
func NewWriter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w: w,
		s: styles{
			heading: r.NewStyle().Foreground(colorPrimary).Bold(true),
			success: r.NewStyle().Foreground(colorSuccess).Bold(true),
			warn:    r.NewStyle().Foreground(colorAccent),
			danger:  r.NewStyle().Foreground(colorDanger).Bold(true),
			muted:   r.NewStyle().Foreground(colorMuted),
			bold:    r.NewStyle().Bold(true),
		},
	}
}

// Writer returns the underlying writer, used as the progress log.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Info prints a de-emphasized line.
func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.w, p.s.muted.Render(msg))
}

// Warn prints a warning line.
func (p *Printer) Warn(msg string) {
	fmt.Fprintln(p.w, p.s.warn.Render(iconWarn+" "+msg))
}

// Error prints an error line.
func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.w, "%s %s\n", p.s.danger.Render("error:"), msg)
}

// Banner prints the session header.
func (p *Printer) Banner(source, target, platform string) {
	fmt.Fprintln(p.w, p.s.heading.Render("animc")+" "+p.s.muted.Render(fmt.Sprintf("%s -> %s [%s]", source, target, platform)))
}

// FailureLine is one failed animation in a summary.
type FailureLine struct {
	Animation string
	Error     string
}

// ArchiveLine is one packed archive in a summary.
type ArchiveLine struct {
	Archive  string
	Members  int
	InBytes  int64
	OutBytes int64
	Written  bool
}

// SummaryData holds everything the end-of-session summary shows. It lives in
// ui so the printer does not depend on the session package.
type SummaryData struct {
	Skipped     int
	Recompiled  int
	Failures    []FailureLine
	Archives    []ArchiveLine
	Warnings    []string
	Unused      []string
	Animations  int
	Poses       int
	Rebuilt     bool
	LocalUpdate bool
	Elapsed     time.Duration
}

// Summary prints the end-of-session report.
func (p *Printer) Summary(d SummaryData) {
	fmt.Fprintln(p.w)
	for _, a := range d.Archives {
		state := p.s.muted.Render("unchanged")
		if a.Written {
			state = p.s.success.Render("written")
		}
		pct := 100.0
		if a.InBytes > 0 {
			pct = float64(a.OutBytes) * 100 / float64(a.InBytes)
		}
		fmt.Fprintf(p.w, "  DBA %s %d KB -> %d KB (%.0f%%) anims: %d %s\n",
			a.Archive, a.InBytes/1024, a.OutBytes/1024, pct, a.Members, state)
	}
	for _, w := range d.Warnings {
		p.Warn(w)
	}

	switch {
	case d.LocalUpdate:
		p.Info("local update mode: database rebuild skipped")
	case d.Rebuilt:
		fmt.Fprintf(p.w, "  indexes: %d animations, %d poses\n", d.Animations, d.Poses)
	case d.Recompiled == 0:
		p.Info("nothing recompiled: database rebuild skipped")
	}

	if len(d.Unused) > 0 {
		fmt.Fprintln(p.w, p.s.warn.Render(fmt.Sprintf("%s %d unused archive(s):", iconWarn, len(d.Unused))))
		for _, u := range d.Unused {
			fmt.Fprintf(p.w, "    %s %s\n", iconItem, u)
		}
	}

	line := fmt.Sprintf("skipped: %d, recompiled: %d, failed: %d (%.1fs)",
		d.Skipped, d.Recompiled, len(d.Failures), d.Elapsed.Seconds())
	if len(d.Failures) == 0 {
		fmt.Fprintln(p.w, p.s.success.Render(iconDone+" done")+" "+line)
		return
	}
	fmt.Fprintln(p.w, p.s.danger.Render(iconFailed+" done with failures")+" "+line)
	for _, f := range d.Failures {
		fmt.Fprintf(p.w, "  %s %s: %s\n", p.s.danger.Render(iconItem), f.Animation, f.Error)
	}
}

// CheckResult prints one validation check.
func (p *Printer) CheckResult(name string, errs []error) {
	if len(errs) == 0 {
		fmt.Fprintf(p.w, "%s %s\n", p.s.success.Render(iconDone), name)
		return
	}
	fmt.Fprintf(p.w, "%s %s: %d error(s)\n", p.s.danger.Render(iconFailed), name, len(errs))
	for _, e := range errs {
		fmt.Fprintf(p.w, "  %s %v\n", p.s.danger.Render(iconItem), e)
	}
}

// HistoryRow is one build in the history listing.
type HistoryRow struct {
	ID         int64
	StartedAt  time.Time
	Platform   string
	Recompiled int
	Skipped    int
	Failed     int
	Elapsed    time.Duration
}

// History prints recent builds, newest first.
func (p *Printer) History(rows []HistoryRow) {
	if len(rows) == 0 {
		p.Info("no builds recorded")
		return
	}
	fmt.Fprintln(p.w, p.s.bold.Render(fmt.Sprintf("%-6s %-19s %-8s %10s %8s %6s %8s",
		"BUILD", "STARTED", "PLATFORM", "RECOMPILED", "SKIPPED", "FAILED", "TIME")))
	for _, r := range rows {
		failed := fmt.Sprintf("%6d", r.Failed)
		if r.Failed > 0 {
			failed = p.s.danger.Render(failed)
		}
		fmt.Fprintf(p.w, "%-6d %-19s %-8s %10d %8d %s %7.1fs\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Platform, r.Recompiled, r.Skipped, failed, r.Elapsed.Seconds())
	}
}

// UnusedArchives lists archives no table declares, marking the deleted ones.
func (p *Printer) UnusedArchives(paths []string, deleted bool) {
	if len(paths) == 0 {
		fmt.Fprintln(p.w, p.s.success.Render(iconDone)+" no unused archives")
		return
	}
	verb := "unused"
	if deleted {
		verb = "deleted"
	}
	fmt.Fprintln(p.w, p.s.warn.Render(fmt.Sprintf("%s %d %s archive(s):", iconWarn, len(paths), verb)))
	fmt.Fprintln(p.w, "    "+strings.Join(paths, "\n    "))
}
