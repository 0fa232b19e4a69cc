package commands

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/fathomlabs/fathom/internal/diagnose"
)

var (
	doneStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	abortedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	idStyle      = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// printReport renders one report to stdout, styled for the terminal unless
// --plain was given.
func printReport(report *diagnose.Report) {
	md := report.Markdown()
	if diagnosePlain {
		fmt.Println(md)
		return
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(md)
		return
	}

	out, err := renderer.Render(md)
	if err != nil {
		fmt.Println(md)
		return
	}

	fmt.Println(statusLine(report))
	fmt.Print(out)
}

func statusLine(report *diagnose.Report) string {
	status := doneStyle.Render("done")
	if report.Outcome == diagnose.OutcomeAborted {
		status = abortedStyle.Render("aborted")
	}
	return fmt.Sprintf("%s %s %s",
		idStyle.Render(report.IssueID),
		status,
		dimStyle.Render(fmt.Sprintf("run %s", report.RunID)))
}

func init() {
	// Respect NO_COLOR and non-TTY output for the status line; glamour
	// handles its own detection.
	if os.Getenv("NO_COLOR") != "" {
		doneStyle = lipgloss.NewStyle()
		abortedStyle = lipgloss.NewStyle()
		idStyle = lipgloss.NewStyle()
		dimStyle = lipgloss.NewStyle()
	}
}
