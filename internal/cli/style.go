package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mistakeknot/hydra/internal/core"
)

type styles struct {
	header lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	dim    lipgloss.Style
	box    lipgloss.Style
}

// newStyles renders for w; colour is dropped when w is not a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().Bold(true),
		ok:     r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		err:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dim:    r.NewStyle().Faint(true),
		box:    r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("1")).Padding(0, 1),
	}
}

func (s styles) conflictReport(mc *core.MergeConflictError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge of %s into %s stopped on %d conflicting path(s):\n", mc.Branch, mc.Trunk, len(mc.Paths))
	for _, p := range mc.Paths {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	fmt.Fprintf(&b, "\nThe merge is still in progress in %s.\n", mc.Worktree)
	b.WriteString("Resolve the conflicts there and commit, then rerun the merge to clean up,\n")
	b.WriteString("or abandon it with: hydra merge " + mc.Owner.Agent + " --abort")
	return s.box.Render(b.String())
}

// table renders rows as space-aligned columns under a bold header.
func (s styles) table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}
	line := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			if i == len(cells)-1 {
				parts[i] = c
				continue
			}
			parts[i] = c + strings.Repeat(" ", widths[i]-lipgloss.Width(c))
		}
		return strings.Join(parts, "  ")
	}
	fmt.Fprintln(w, s.header.Render(line(header)))
	for _, row := range rows {
		fmt.Fprintln(w, line(row))
	}
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
