package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-clusterstore/pkg/membership"
	"github.com/dd0wney/cluso-clusterstore/pkg/provider"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 2).
			MarginLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true).
			MarginLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type watchKeyMap struct {
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
	Quit    key.Binding
}

var watchKeys = watchKeyMap{
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Up, k.Down, k.Quit}
}

func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh, k.Up, k.Down}, {k.Quit}}
}

// readFunc fetches the membership table; the provider's directory in
// production, a stub in tests
type readFunc func(ctx context.Context) (*membership.TableData, error)

type tableMsg struct {
	data *membership.TableData
	err  error
	at   time.Time
}

type tickMsg time.Time

type watchModel struct {
	read     readFunc
	interval time.Duration
	scope    string

	members table.Model
	help    help.Model
	keys    watchKeyMap

	data    *membership.TableData
	err     error
	updated time.Time
	width   int
}

func newWatchModel(read readFunc, interval time.Duration, scope string) watchModel {
	columns := []table.Column{
		{Title: "Address", Width: 26},
		{Title: "Status", Width: 13},
		{Title: "Silo", Width: 16},
		{Title: "Host", Width: 16},
		{Title: "Proxy", Width: 6},
		{Title: "Last alive", Width: 12},
		{Title: "Suspects", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)

	return watchModel{
		read:     read,
		interval: interval,
		scope:    scope,
		members:  t,
		help:     help.New(),
		keys:     watchKeys,
	}
}

func (m watchModel) fetch() tea.Cmd {
	read := m.read
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, err := read(ctx)
		return tableMsg{data: data, err: err, at: time.Now()}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case tableMsg:
		m.err = msg.err
		if msg.err == nil {
			m.data = msg.data
			m.updated = msg.at
			m.members.SetRows(toTableRows(memberRows(msg.data, msg.at)))
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		}
	}

	var cmd tea.Cmd
	m.members, cmd = m.members.Update(msg)
	return m, cmd
}

func toTableRows(rows [][]string) []table.Row {
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		out[i] = table.Row(r)
	}
	return out
}

func (m watchModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("clusterstore membership · " + m.scope))
	s.WriteString("\n\n")

	if m.data == nil && m.err == nil {
		s.WriteString("  Loading...\n")
	}
	if m.data != nil {
		s.WriteString(statsBoxStyle.Render(m.renderStats()))
		s.WriteString("\n\n")
		s.WriteString(m.members.View())
		s.WriteString("\n")
	}
	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("✗ " + m.err.Error()))
		s.WriteString("\n")
	}

	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

func (m watchModel) renderStats() string {
	counts := m.data.CountByStatus()
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %d", name, counts[name]))
	}
	if len(parts) == 0 {
		parts = append(parts, "no silos")
	}

	stale := len(m.data.Stale(m.updated, provider.StaleAfter))
	return fmt.Sprintf("Table version %d   %s   stale %d   updated %s",
		m.data.Version.Version, strings.Join(parts, ", "), stale, m.updated.Format("15:04:05"))
}

func newWatchCmd(opts *cliOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of the membership table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			scope := p.Directory.ServiceID() + "/" + p.Directory.DeploymentID()
			model := newWatchModel(p.Directory.ReadAll, interval, scope)
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")
	return cmd
}
