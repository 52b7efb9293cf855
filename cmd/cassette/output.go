package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"cassette/internal/queue"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))            // dark green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))           // grey
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // purple
)

var styleSymbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"pending": "◉",
	"arrow":   "→",
	"hline":   "━",
}

func PrintWarning(text string) {
	fmt.Println(warningStyle.Render(text))
}

// Summary counts leaf outcomes of the entries shown to the user
type Summary struct {
	Total    int
	Finished int
	Failed   int
	Pending  int
	Bytes    int64
}

func (s *Summary) add(e queue.Entry) {
	s.Total++
	switch e.Status {
	case queue.StatusFinished:
		s.Finished++
		s.Bytes += e.Loaded
	case queue.StatusInterrupted:
		s.Failed++
	default:
		s.Pending++
	}
}

// printSummary renders one line per leaf, grouped under their container, and returns the totals.
func printSummary(w io.Writer, entries []queue.Entry, root string) Summary {
	var s Summary
	for _, e := range entries {
		switch e.Kind {
		case queue.KindAlbum, queue.KindPlaylist:
			fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s %s", e.Title, detailStyle.Render("("+e.Path+")"))))
			for _, t := range e.Tracks {
				fmt.Fprintln(w, "  "+entryLine(t))
				s.add(t)
			}
		default:
			fmt.Fprintln(w, entryLine(e))
			s.add(e)
		}
	}

	fmt.Fprintln(w, detailStyle.Render(strings.Repeat(styleSymbols["hline"], 40)))
	totals := fmt.Sprintf("%d finished, %d failed", s.Finished, s.Failed)
	if s.Pending > 0 {
		totals += fmt.Sprintf(", %d not started", s.Pending)
	}
	totals += fmt.Sprintf(" (%s) %s %s", humanBytes(s.Bytes), styleSymbols["arrow"], root)
	if s.Failed > 0 {
		fmt.Fprintln(w, errorStyle.Render(totals))
	} else {
		fmt.Fprintln(w, successStyle.Render(totals))
	}
	return s
}

func entryLine(e queue.Entry) string {
	label := e.Title
	if e.Path != "" {
		label = e.Path
	}
	switch e.Status {
	case queue.StatusFinished:
		return successStyle.Render(styleSymbols["pass"] + " " + label)
	case queue.StatusInterrupted:
		return errorStyle.Render(styleSymbols["fail"]+" "+label) + " " + detailStyle.Render(e.Error)
	}
	return pendingStyle.Render(styleSymbols["pending"] + " " + label)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
