package output

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/tanq16/pixreaper/internal/download"
	"github.com/tanq16/pixreaper/internal/resolver"
	"github.com/tanq16/pixreaper/internal/scanner"
	"github.com/tanq16/pixreaper/internal/utils"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))   // green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))   // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))  // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))  // blue
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))  // cyan
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")) // grey
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
)

var styleSymbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"warning": "!",
	"pending": "◉",
	"arrow":   "→",
}

func PrintSuccess(text string) {
	fmt.Println(successStyle.Render(text))
}
func PrintError(text string) {
	fmt.Println(errorStyle.Render(text))
}
func PrintWarning(text string) {
	fmt.Println(warningStyle.Render(text))
}
func PrintInfo(text string) {
	fmt.Println(infoStyle.Render(text))
}
func PrintHeader(text string) {
	fmt.Println(headerStyle.Render(text))
}

// Tracker renders scan and download events as they stream in.
type Tracker struct {
	total int
	done  int
}

func NewTracker(total int) *Tracker {
	return &Tracker{total: total}
}

func (t *Tracker) ScanEvent(ev scanner.Event) {
	switch ev.Kind {
	case scanner.EventProgress:
		t.done++
		r := ev.Result
		prefix := fmt.Sprintf("(%d/%d)", t.done, t.total)
		switch r.Status {
		case resolver.StatusSuccess:
			fmt.Printf("%s %s %s\n", detailStyle.Render(prefix), successStyle.Render(styleSymbols["pass"]), r.Resolved)
		case resolver.StatusFailed:
			fmt.Printf("%s %s %s %s\n", detailStyle.Render(prefix), errorStyle.Render(styleSymbols["fail"]), r.Link, detailStyle.Render(r.Err))
		}
	case scanner.EventCompleted:
		PrintInfo(fmt.Sprintf("Scan complete: %d links processed", len(ev.Results)))
	case scanner.EventCancelled:
		PrintWarning("Scan cancelled")
	}
}

func (t *Tracker) DownloadEvent(ev download.Event) {
	switch ev.Kind {
	case download.EventProgress:
		p := ev.Progress
		switch p.Status {
		case download.StatusSuccess:
			line := p.Path
			if p.Size > 0 {
				line += " " + detailStyle.Render("("+utils.FormatBytes(uint64(p.Size))+")")
			}
			fmt.Printf("%s %s\n", successStyle.Render(styleSymbols["pass"]), line)
		case download.StatusSkipped:
			fmt.Printf("%s %s %s\n", pendingStyle.Render(styleSymbols["pending"]), p.Path, detailStyle.Render("(duplicate)"))
		case download.StatusRetrying:
			fmt.Printf("%s retry %d %s %s\n", warningStyle.Render(styleSymbols["warning"]), p.Attempt, p.Path, detailStyle.Render(p.Err))
		case download.StatusFailed:
			fmt.Printf("%s %s %s\n", errorStyle.Render(styleSymbols["fail"]), p.Path, detailStyle.Render(p.Err))
		case download.StatusCancelled:
			fmt.Printf("%s %s\n", warningStyle.Render(styleSymbols["warning"]), p.Path)
		}
	case download.EventCompleted:
		s := ev.Summary
		PrintHeader(fmt.Sprintf("Done: %d downloaded, %d skipped, %d failed, %d cancelled (%d total)",
			s.Success, s.Skipped, s.Failed, s.Cancelled, s.Total))
	}
}
