// internal/tui/app.go
//
// This is the terminal front end for the reactive counter.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: the last published value and whether the controls are locked
// 2. Update: applies publications, lockouts and key presses one at a time
// 3. View: renders the model to a string
//
// The bubbletea event loop is the counter's presentation sink: it is the only
// place where visible state changes, and it handles one message at a time.

package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/reactive-counter/internal/logbook"
	"github.com/kingrea/reactive-counter/internal/session"
	"github.com/kingrea/reactive-counter/internal/sink"
)

const clockRefreshInterval = 250 * time.Millisecond

var (
	valueStyleUp     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	valueStyleDown   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	valueStyleLocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999")).Bold(true)
	lockBannerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	detailTextStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	boxStyle         = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

// Controls is the command surface the key bindings drive.
type Controls interface {
	Increase() error
	Decrease() error
	Stop() error
}

type publishMsg struct {
	snap sink.Snapshot
	ack  chan struct{}
}

type lockMsg struct {
	ack chan struct{}
}

type clockMsg time.Time

type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Stop key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Stop, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:   key.NewBinding(key.WithKeys("up", "+", "k"), key.WithHelp("↑/+", "count up")),
		Down: key.NewBinding(key.WithKeys("down", "-", "j"), key.WithHelp("↓/-", "count down")),
		Stop: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithJournal shows the tail of the session journal under the counter.
func WithJournal(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.journal = lb
	}
}

// WithDeadline shows a countdown to the watchdog deadline.
func WithDeadline(d time.Duration) AppOption {
	return func(a *App) {
		a.deadline = d
	}
}

// WithClock allows tests to control the countdown.
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// App is the bubbletea model. It holds ALL visible state.
type App struct {
	controls Controls
	journal  *logbook.Logbook
	keys     keyMap
	help     help.Model
	clock    func() time.Time

	value     int64
	previous  int64
	published int
	locked    bool
	statusMsg string

	deadline  time.Duration
	startedAt time.Time
	now       time.Time

	width  int
	height int
}

// NewApp creates the model driving controls.
func NewApp(controls Controls, opts ...AppOption) *App {
	app := &App{
		controls:  controls,
		keys:      defaultKeyMap(),
		help:      help.New(),
		clock:     time.Now,
		statusMsg: "Counting",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.startedAt = app.clock()
	app.now = app.startedAt
	return app
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.scheduleClock()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case publishMsg:
		a.applyPublish(msg.snap)
		close(msg.ack)
		return a, nil

	case lockMsg:
		a.lockControls()
		close(msg.ack)
		return a, nil

	case clockMsg:
		a.now = time.Time(msg)
		if a.locked {
			return a, nil
		}
		return a, a.scheduleClock()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.Up):
			a.runCommand("Counting up", a.controls.Increase)
		case key.Matches(msg, a.keys.Down):
			a.runCommand("Counting down", a.controls.Decrease)
		case key.Matches(msg, a.keys.Stop):
			a.runCommand("Stopping…", a.controls.Stop)
		}
		return a, nil
	}
	return a, nil
}

func (a *App) applyPublish(snap sink.Snapshot) {
	if a.locked {
		return
	}
	if a.published > 0 {
		a.previous = a.value
	}
	a.value = snap.Value
	a.published++
}

func (a *App) lockControls() {
	if a.locked {
		return
	}
	a.locked = true
	a.keys.Up.SetEnabled(false)
	a.keys.Down.SetEnabled(false)
	a.keys.Stop.SetEnabled(false)
	a.statusMsg = "Controls locked"
}

func (a *App) runCommand(status string, command func() error) {
	if a.controls == nil {
		return
	}
	if err := command(); err != nil {
		if errors.Is(err, session.ErrLockedOut) {
			a.statusMsg = "Controls locked"
			return
		}
		a.statusMsg = fmt.Sprintf("Command failed: %v", err)
		return
	}
	a.statusMsg = status
}

func (a *App) scheduleClock() tea.Cmd {
	if a.deadline <= 0 {
		return nil
	}
	return tea.Tick(clockRefreshInterval, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

// Value returns the last applied value and whether any value was applied.
func (a *App) Value() (int64, bool) {
	return a.value, a.published > 0
}

// Locked reports whether the controls were disabled.
func (a *App) Locked() bool {
	return a.locked
}

// View renders the current state to a string.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ COUNTER")

	sections := []string{header, boxStyle.Render(a.renderCounter())}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer, a.help.View(a.keys))
	return strings.Join(sections, "\n")
}

func (a *App) renderCounter() string {
	if a.published == 0 {
		return detailTextStyle.Render("Waiting for the first value...")
	}
	style := valueStyleUp
	switch {
	case a.locked:
		style = valueStyleLocked
	case a.published > 1 && a.value < a.previous:
		style = valueStyleDown
	}
	lines := []string{style.Render(fmt.Sprintf("%d", a.value))}
	if a.locked {
		lines = append(lines, lockBannerStyle.Render("controls locked"))
	} else if a.deadline > 0 {
		remaining := a.deadline - a.now.Sub(a.startedAt)
		if remaining < 0 {
			remaining = 0
		}
		lines = append(lines, detailTextStyle.Render(fmt.Sprintf("watchdog: %s left", humanizeDuration(remaining))))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderLogPanel() string {
	if a.journal == nil {
		return ""
	}
	lines, total := a.journal.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.journal.Path())
	if fileName == "." || fileName == "" {
		fileName = "journal"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d)", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}
