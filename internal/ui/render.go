// Package ui renders CLI output and asks the user to settle conflicts.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/mschirtzinger/todosync/internal/store"
	"github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// CanPrompt reports whether interactive prompts can run on stdin/stdout.
func CanPrompt() bool {
	return IsTerminal(os.Stdin) && IsTerminal(os.Stdout)
}

// Renderer styles output for one writer. Colors are dropped when the
// writer is not a terminal or NO_COLOR is set.
type Renderer struct {
	r *lipgloss.Renderer

	title   lipgloss.Style
	muted   lipgloss.Style
	done    lipgloss.Style
	open    lipgloss.Style
	warn    lipgloss.Style
	good    lipgloss.Style
	label   lipgloss.Style
	pending lipgloss.Style
}

// NewRenderer creates a renderer for w.
func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	if f, ok := w.(*os.File); !ok || !IsTerminal(f) || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Renderer{
		r:       r,
		title:   r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		done:    r.NewStyle().Foreground(lipgloss.Color("2")).Strikethrough(true),
		open:    r.NewStyle(),
		warn:    r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		good:    r.NewStyle().Foreground(lipgloss.Color("2")),
		label:   r.NewStyle().Width(12),
		pending: r.NewStyle().Foreground(lipgloss.Color("4")),
	}
}

// Items renders a list of items, one per line.
func (u *Renderer) Items(items []*todo.Item) string {
	if len(items) == 0 {
		return u.muted.Render("No items.") + "\n"
	}

	var b strings.Builder
	for _, it := range items {
		box := "[ ]"
		name := u.open.Render(it.Name)
		if it.Done {
			box = "[x]"
			name = u.done.Render(it.Name)
		}

		ref := it.ID
		marker := ""
		if ref == "" {
			ref = it.LocalID
			marker = " " + u.pending.Render("(not synced)")
		}
		if len(ref) > 8 {
			ref = ref[:8]
		}

		fmt.Fprintf(&b, "%s %s %s%s\n", box, u.muted.Render(ref), name, marker)
	}
	return b.String()
}

// Item renders one item in detail.
func (u *Renderer) Item(it *todo.Item) string {
	var b strings.Builder
	b.WriteString(u.title.Render(it.Name) + "\n")
	u.row(&b, "local id", it.LocalID)
	u.row(&b, "remote id", orDash(it.ID))
	u.row(&b, "version", orDash(it.Version))
	u.row(&b, "done", fmt.Sprint(it.Done))
	if !it.UpdatedAt.IsZero() {
		u.row(&b, "updated", it.UpdatedAt.Local().Format(time.RFC3339))
	}
	return b.String()
}

// Outcome renders the counts of a sync cycle.
func (u *Renderer) Outcome(o *sync.Outcome) string {
	var b strings.Builder
	b.WriteString(u.title.Render("Sync complete") + u.muted.Render(" in "+o.Duration.Round(time.Millisecond).String()) + "\n")
	u.row(&b, "pushed", fmt.Sprint(o.Pushed))
	u.row(&b, "pulled", fmt.Sprint(o.Pulled))
	if o.Skipped > 0 {
		u.row(&b, "held back", fmt.Sprint(o.Skipped))
	}
	conflicts := o.Discarded + o.ResolvedServer + o.ResolvedClient + o.Unresolved
	if conflicts > 0 {
		u.row(&b, "conflicts", fmt.Sprintf("%d (server %d, client %d, identical %d)",
			conflicts, o.ResolvedServer, o.ResolvedClient, o.Discarded))
	}
	if o.Unresolved > 0 {
		b.WriteString(u.warn.Render(fmt.Sprintf("%d conflict(s) left queued; run sync again to retry", o.Unresolved)) + "\n")
	}
	return b.String()
}

// Status renders the local sync state.
func (u *Renderer) Status(s *sync.Status, offline bool) string {
	var b strings.Builder
	mode := "direct"
	if offline {
		mode = "offline"
	}
	u.row(&b, "mode", mode)

	queued := fmt.Sprint(s.Pending)
	if s.Pending > 0 {
		queued = u.pending.Render(queued + " waiting to push")
	} else {
		queued = u.good.Render("nothing to push")
	}
	u.row(&b, "queue", queued)

	for _, tok := range s.Tokens {
		u.row(&b, "pulled", fmt.Sprintf("%s through %s", tok.Query, tokenTime(tok)))
	}
	if len(s.Tokens) == 0 {
		u.row(&b, "pulled", u.muted.Render("never"))
	}
	return b.String()
}

// Warn renders a warning line.
func (u *Renderer) Warn(msg string) string {
	return u.warn.Render("Warning: ") + msg + "\n"
}

// Success renders a confirmation line.
func (u *Renderer) Success(msg string) string {
	return u.good.Render("✓ ") + msg + "\n"
}

func (u *Renderer) row(b *strings.Builder, label, value string) {
	b.WriteString(u.label.Render(label) + value + "\n")
}

func tokenTime(tok store.ChangeToken) string {
	if tok.UpdatedAt.IsZero() {
		return "(empty)"
	}
	return tok.UpdatedAt.Local().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
