package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/skywinder/telegram-pars/internal/api"
)

const barWidth = 30

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7")).Bold(true)
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
)

// renderSnapshot builds the textual view for one status response.
func renderSnapshot(snap api.StatusResponse) string {
	var b strings.Builder

	if !snap.Active {
		b.WriteString(titleStyle.Render("telegram-pars"))
		b.WriteString("\n")
		b.WriteString("no active job\n")
		b.WriteString(hintStyle.Render("waiting for an ingestion run to start..."))
		return b.String()
	}

	b.WriteString(titleStyle.Render("telegram-pars · " + snap.Operation))
	b.WriteString("\n\n")

	if snap.Progress != nil {
		b.WriteString(renderBar(snap.Progress))
		b.WriteString("\n")
	}

	if snap.CurrentUnit != nil {
		line := fmt.Sprintf("current: %s", snap.CurrentUnit.Label)
		if snap.CurrentUnit.Kind != "" {
			line += fmt.Sprintf(" (%s)", snap.CurrentUnit.Kind)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if snap.Stats != nil {
		b.WriteString(fmt.Sprintf("requests %d · backoffs %d (%.1f%%) · %.1f req/min",
			snap.Stats.TotalRequests,
			snap.Stats.BackoffEvents,
			snap.Stats.BackoffRatio*100,
			snap.Stats.RequestsPerMinute,
		))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("running for %s", formatDuration(snap.Stats.DurationSeconds)))
		b.WriteString("\n")
	}

	if snap.InterruptionRequested {
		b.WriteString(statusStyle.Render("interruption requested: stopping after the current chat"))
		b.WriteString("\n")
	}

	b.WriteString(hintStyle.Render("Ctrl+C to stop the job gracefully"))
	return b.String()
}

func renderBar(p *api.ProgressSection) string {
	if p.Total <= 0 {
		return fmt.Sprintf("%d chats done (total unknown)", p.Completed)
	}
	frac := float64(p.Completed) / float64(p.Total)
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * barWidth)
	bar := barStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("[%s] %d/%d (%.0f%%)", bar, p.Completed, p.Total, frac*100)
	if p.EtaSeconds != nil {
		line += fmt.Sprintf("  ETA %s", formatDuration(*p.EtaSeconds))
	}
	return line
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}
