package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/pfrederiksen/ddp-go/ddp"
	"github.com/pfrederiksen/ddp-go/internal/config"
	"github.com/pfrederiksen/ddp-go/reactive"
)

const historyDepth = 120
const activityDepth = 50

// activityItem is one line in the scrolling activity log, backed by
// bubbles/list the way the teacher's dashboard lists vehicle events.
type activityItem string

func (i activityItem) Title() string       { return string(i) }
func (i activityItem) Description() string { return "" }
func (i activityItem) FilterValue() string { return string(i) }

type statusMsg struct{ status ddp.Status }
type loginResultMsg struct{ err *ddp.Error }
type subReadyMsg struct{}
type subErrorMsg struct{ err *ddp.Error }
type countMsg struct{ count int }
type fatalMsg struct{ err error }

// model is the Bubble Tea model driving ddp-watch: it connects, logs in,
// subscribes to one collection, and plots that collection's live document
// count, mirroring the teacher's internal/tui.Model lifecycle (fetch, wait
// for updates, render) but sourcing updates from a reactive.Binding instead
// of a polling channel.
type model struct {
	client           *ddp.Client
	cfg              *config.Config
	collectionName   string
	subscriptionName string
	cancel           context.CancelFunc

	updates  chan tea.Msg
	binding  *reactive.Binding[int]
	spin     spinner.Model
	activity list.Model

	width, height int

	status   ddp.Status
	loggedIn bool
	subReady bool
	err      error

	history []float64
}

func (m *model) logActivity(line string) {
	m.activity.InsertItem(len(m.activity.Items()), activityItem(line))
	if len(m.activity.Items()) > activityDepth {
		m.activity.RemoveItem(0)
	}
}

func newModel(client *ddp.Client, cfg *config.Config, collectionName, subscriptionName string, cancel context.CancelFunc) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ffff"))

	activity := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	activity.Title = "activity"
	activity.SetShowHelp(false)
	activity.SetShowStatusBar(false)
	activity.SetFilteringEnabled(false)

	m := &model{
		client:           client,
		cfg:              cfg,
		collectionName:   collectionName,
		subscriptionName: subscriptionName,
		cancel:           cancel,
		updates:          make(chan tea.Msg, 16),
		status:           ddp.StatusDisconnected,
		spin:             spin,
		activity:         activity,
	}

	client.OnConnected(func(ddp.ConnectedEvent) {
		m.updates <- statusMsg{status: ddp.StatusConnected}
		selector := ddp.ParseLoginSelector(cfg.Username)
		if cfg.Email != "" {
			selector = ddp.LoginSelector{Email: cfg.Email}
		}
		client.LoginWithPassword(selector, cfg.Password, func(err *ddp.Error) {
			m.updates <- loginResultMsg{err: err}
		})
	})
	client.OnDisconnected(func() {
		m.updates <- statusMsg{status: ddp.StatusDisconnected}
	})
	client.OnError(func(err *ddp.Error) {
		m.updates <- subErrorMsg{err: err}
	})

	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.subscribeCmd(), m.waitForUpdateCmd(), m.spin.Tick)
}

// subscribeCmd registers the collection subscription. It can be called
// before the socket is connected: SubscriptionManager records the sub and
// Conn.replayInFlight sends it once connected (spec.md §4.5, §5).
func (m *model) subscribeCmd() tea.Cmd {
	return func() tea.Msg {
		m.client.Subscribe(m.subscriptionName, nil, &ddp.SubscriptionCallbacks{
			OnReady: func() { m.updates <- subReadyMsg{} },
			OnError: func(err *ddp.Error) { m.updates <- subErrorMsg{err: err} },
		})
		return nil
	}
}

func (m *model) waitForUpdateCmd() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *model) startBinding() {
	if m.binding != nil {
		return
	}
	col, err := m.client.Collection(m.collectionName)
	if err != nil {
		m.updates <- fatalMsg{err: err}
		return
	}
	m.binding = reactive.Use(m.client.Graph(), func() int {
		return col.Find(nil).Count()
	}, func(count int) {
		m.updates <- countMsg{count: count}
	})
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.binding != nil {
				m.binding.Stop()
			}
			m.cancel()
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.activity, cmd = m.activity.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.activity.SetSize(m.width-4, 10)
		return m, nil

	case statusMsg:
		m.status = msg.status
		m.logActivity(fmt.Sprintf("status: %s", msg.status))
		return m, m.waitForUpdateCmd()

	case loginResultMsg:
		if msg.err != nil {
			m.err = msg.err
			m.logActivity("login failed: " + msg.err.Error())
		} else {
			m.loggedIn = true
			m.logActivity("logged in")
		}
		return m, m.waitForUpdateCmd()

	case subReadyMsg:
		m.subReady = true
		m.logActivity("subscription ready: " + m.subscriptionName)
		m.startBinding()
		return m, m.waitForUpdateCmd()

	case subErrorMsg:
		if msg.err != nil {
			m.err = msg.err
			m.logActivity("error: " + msg.err.Error())
		}
		return m, m.waitForUpdateCmd()

	case countMsg:
		m.history = append(m.history, float64(msg.count))
		if len(m.history) > historyDepth {
			m.history = m.history[len(m.history)-historyDepth:]
		}
		return m, m.waitForUpdateCmd()

	case fatalMsg:
		m.err = msg.err
		m.logActivity("fatal: " + msg.err.Error())
		return m, m.waitForUpdateCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ffff")).MarginBottom(1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff00"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff0000"))
)

func (m *model) View() string {
	title := titleStyle.Render(fmt.Sprintf("ddp-watch — %s", m.collectionName))

	status := fmt.Sprintf("status: %s  logged-in: %v  sub-ready: %v", m.status, m.loggedIn, m.subReady)

	var body string
	switch {
	case len(m.history) < 2:
		body = fmt.Sprintf("%s waiting for data...\n", m.spin.View())
	default:
		width := m.width - 4
		if width < 10 {
			width = 10
		}
		height := m.height - 10
		if height < 4 {
			height = 4
		}
		body = asciigraph.Plot(m.history, asciigraph.Width(width), asciigraph.Height(height))
	}

	footer := "q: quit"
	if m.err != nil {
		footer = errStyle.Render(m.err.Error()) + "\n" + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		statusStyle.Render(status),
		"",
		body,
		"",
		m.activity.View(),
		"",
		footer,
	)
}
