// Package ui renders the interactive archive console: queue totals, active
// transfers and restore jobs, fed by periodic state snapshots.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/reelops/vaultfast/engine"
	"github.com/reelops/vaultfast/store"
)

// State is the aggregated snapshot the console renders.
type State struct {
	Stats    engine.Stats
	Uploads  []*store.UploadRecord
	Restores []*store.RestoreRecord
	Done     bool
}

// StateMsg delivers a fresh snapshot to the model.
type StateMsg State

// Model implements tea.Model for the archive console.
type Model struct {
	state    State
	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	width  int
	height int

	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	rowStyle     lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// New creates a console model with an empty snapshot.
func New() Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		spinner:      s,
		progress:     progress.New(progress.WithDefaultGradient()),
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		rowStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 14

		headerHeight := 5
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)

	case StateMsg:
		m.state = State(msg)
		if m.state.Done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder

	header := fmt.Sprintf("%s VaultFast %s", m.spinner.View(), m.titleStyle.Render("Archive Console"))
	sb.WriteString(header + "\n")

	stats := m.state.Stats
	var percent float64
	if stats.TotalBytes > 0 {
		percent = float64(stats.UploadedBytes) / float64(stats.TotalBytes)
	}

	info := fmt.Sprintf("ETA: %s | Active: %d | Queued: %d | Done: %d | Failed: %d | %s / %s",
		formatETA(percent, stats.ETASeconds),
		stats.InProgress, stats.Pending, stats.Completed, stats.Failed,
		formatBytes(stats.UploadedBytes), formatBytes(stats.TotalBytes))
	sb.WriteString(m.infoStyle.Render(info) + "\n")
	sb.WriteString(m.progress.ViewAs(percent) + "\n\n")

	sb.WriteString("Transfers:\n")
	var rows strings.Builder
	active := 0
	for _, rec := range m.state.Uploads {
		if rec.State != store.StateInProgress {
			continue
		}
		active++
		frac := 0.0
		if rec.FileSize > 0 {
			frac = float64(rec.UploadedBytes) / float64(rec.FileSize)
		}
		rows.WriteString(fmt.Sprintf("%s | %-10s | %s\n",
			m.progress.ViewAs(frac),
			m.rowStyle.Render(formatSpeed(rec.SpeedBps)),
			truncatePath(rec.SourcePath, 40)))
	}
	if active == 0 {
		rows.WriteString(m.infoStyle.Render("No active transfers...") + "\n")
	}

	if len(m.state.Restores) > 0 {
		rows.WriteString("\nRestores:\n")
		for _, rec := range m.state.Restores {
			line := fmt.Sprintf("%-12s | %-9s | %s", rec.State, rec.Tier, truncatePath(rec.Key, 40))
			switch rec.State {
			case store.StateFailed:
				line = m.errorStyle.Render(line)
			case store.StateCompleted:
				line = m.successStyle.Render(line)
			}
			rows.WriteString(line + "\n")
		}
	}

	m.viewport.SetContent(rows.String())
	sb.WriteString(m.viewport.View())

	help := m.helpStyle.Render("q/ctrl+c: quit")
	if m.state.Done {
		help = m.successStyle.Render("All transfers complete!") + " Press 'q' to exit."
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

func truncatePath(p string, limit int) string {
	if len(p) <= limit {
		return p
	}
	return "..." + p[len(p)-(limit-3):]
}

func formatBytes(n int64) string {
	switch {
	case n >= 1024*1024*1024*1024:
		return fmt.Sprintf("%.2f TB", float64(n)/(1024*1024*1024*1024))
	case n >= 1024*1024*1024:
		return fmt.Sprintf("%.2f GB", float64(n)/(1024*1024*1024))
	case n >= 1024*1024:
		return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%d B", n)
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec >= 1024*1024*1024 {
		return fmt.Sprintf("%.2f GB/s", bytesPerSec/(1024*1024*1024))
	} else if bytesPerSec >= 1024*1024 {
		return fmt.Sprintf("%.2f MB/s", bytesPerSec/(1024*1024))
	} else if bytesPerSec >= 1024 {
		return fmt.Sprintf("%.2f KB/s", bytesPerSec/1024)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

func formatETA(progress float64, etaSeconds int64) string {
	if progress >= 1 {
		return "0s"
	}
	if etaSeconds <= 0 {
		return "Calculating..."
	}

	d := time.Duration(etaSeconds) * time.Second
	if d.Hours() > 24 {
		return "> 1d"
	}
	return d.Round(time.Second).String()
}
