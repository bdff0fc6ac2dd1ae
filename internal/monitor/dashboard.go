// Package monitor is a terminal dashboard for a running reqstream gateway.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxChannelRows  = 10
)

// Model represents the BubbleTea dashboard model
type Model struct {
	gatewayURL string
	interval   time.Duration
	lastUpdate time.Time
	sample     Sample
	err        error
	quitting   bool

	eventRate        float64
	eventRatePeak    float64
	rateHistory      []float64
	channelHistory   []float64
	listenersHistory []float64

	loadProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a new dashboard model
func NewModel(gatewayURL string, interval time.Duration) Model {
	return Model{
		gatewayURL:       gatewayURL,
		interval:         interval,
		eventRatePeak:    1.0,
		rateHistory:      make([]float64, 0, historySize),
		channelHistory:   make([]float64, 0, historySize),
		listenersHistory: make([]float64, 0, historySize),
		loadProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
	}
}

// getStatusBadge returns overall gateway status badge
func getStatusBadge(s Sample) string {
	switch {
	case s.Health.Status != "ok":
		return errorStyle.Render("✗ ERROR")
	case !s.Status.Configured:
		return warningStyle.Render("⚠ DEGRADED")
	default:
		return healthyStyle.Render("✓ HEALTHY")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type sampleMsg Sample
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSample(m.gatewayURL),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSample polls the gateway
func fetchSample(gatewayURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s, err := NewStatusClient(gatewayURL).Sample(ctx)
		if err != nil {
			return errMsg(err)
		}
		return sampleMsg(s)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSample(m.gatewayURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSample(m.gatewayURL),
		)

	case sampleMsg:
		cur := Sample(msg)
		m.eventRate = EventRate(m.sample, cur)
		if m.eventRate > m.eventRatePeak {
			m.eventRatePeak = m.eventRate
		}
		m.rateHistory = appendToHistory(m.rateHistory, m.eventRate)
		m.channelHistory = appendToHistory(m.channelHistory, float64(len(cur.Status.Channels)))
		m.listenersHistory = appendToHistory(m.listenersHistory, float64(cur.Listeners()))

		m.sample = cur
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("reqstream Monitor")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach the gateway") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.gatewayURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Is reqstreamd running? Try: reqctl health --server "+m.gatewayURL) + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string
	s := m.sample

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	version := s.Health.Version
	if version == "" {
		version = "unknown"
	}

	content += headerStyle.Render(" reqstream Monitor ") + "\n"
	content += fmt.Sprintf("%s   %s %s   %s %s   %s\n",
		getStatusBadge(s),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(FormatUptime(s.Status.UptimeSeconds)),
		dimStyle.Render("Version:"),
		valueStyle.Render(version),
		dimStyle.Render(lastUpdateStr))

	content += "\n" + sectionStyle.Render("┃ Events") + "\n"
	content += labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(m.eventRate)) +
		"   " + createSparkline(m.rateHistory) + "\n"
	content += labelStyle.Render("  Delivered: ") +
		valueStyle.Render(FormatCount(s.Status.EventsDelivered)) + "\n"

	load := 0.0
	if m.eventRatePeak > 0 {
		load = m.eventRate / m.eventRatePeak
		if load > 1.0 {
			load = 1.0
		}
	}
	content += labelStyle.Render("  Load: ") +
		m.loadProgress.ViewAs(load) +
		" " + dimStyle.Render(FormatPercentage(load)) + "\n"

	content += "\n" + sectionStyle.Render("┃ Subscriptions") + "\n"
	content += labelStyle.Render("  Channels: ") +
		valueStyle.Render(fmt.Sprintf("%d", len(s.Status.Channels))) +
		"   " + createSparkline(m.channelHistory) + "\n"
	content += labelStyle.Render("  Listeners: ") +
		valueStyle.Render(fmt.Sprintf("%d", s.Listeners())) +
		"   " + createSparkline(m.listenersHistory) + "\n"
	publisher := dimStyle.Render("off")
	if s.Status.Publisher {
		publisher = healthyStyle.Render("on")
	}
	content += labelStyle.Render("  Publisher: ") + publisher + "\n"

	content += "\n" + sectionStyle.Render("┃ Channels") + "\n"
	content += m.renderChannels()

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}

func (m Model) renderChannels() string {
	channels := m.sample.Status.Channels
	if len(channels) == 0 {
		return dimStyle.Render("  no open channels") + "\n"
	}

	var b strings.Builder
	for i, ch := range channels {
		if i == maxChannelRows {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d more", len(channels)-maxChannelRows)) + "\n")
			break
		}
		b.WriteString("  " + valueStyle.Render(fmt.Sprintf("%-32s", ch.Key)) +
			labelStyle.Render(fmt.Sprintf(" %3d", ch.Listeners)) +
			dimStyle.Render(" listeners") + "\n")
	}
	return b.String()
}
