package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrNoSelection is returned by PickServer when the user quits without
// choosing a server.
var ErrNoSelection = errors.New("no server selected")

// LoadFunc fetches the server list.
type LoadFunc func(ctx context.Context) ([]string, error)

type serverItem struct {
	name    string
	current bool
}

func (i serverItem) Title() string { return i.name }

func (i serverItem) Description() string {
	if i.current {
		return "current server"
	}
	return ""
}

func (i serverItem) FilterValue() string { return i.name }

type serversMsg []string

type loadErrMsg struct{ err error }

// Picker is a bubbletea model listing servers for selection.
type Picker struct {
	ctx     context.Context
	load    LoadFunc
	current string

	list    list.Model
	spinner spinner.Model
	loading bool
	err     error
	choice  string
}

// NewPicker creates a picker. current, when set, is marked and
// preselected once the list arrives.
func NewPicker(ctx context.Context, load LoadFunc, current string) Picker {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Select a server"
	l.Styles.Title = titleStyle
	l.SetShowStatusBar(true)
	l.SetStatusBarItemName("server", "servers")

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = okStyle

	return Picker{
		ctx:     ctx,
		load:    load,
		current: current,
		list:    l,
		spinner: s,
		loading: true,
	}
}

// Choice returns the selected server, or "" when none was chosen.
func (m Picker) Choice() string {
	return m.choice
}

// Err returns the last load error.
func (m Picker) Err() error {
	return m.err
}

func (m Picker) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadCmd())
}

func (m Picker) loadCmd() tea.Cmd {
	return func() tea.Msg {
		servers, err := m.load(m.ctx)
		if err != nil {
			return loadErrMsg{err}
		}
		return serversMsg(servers)
	}
}

func (m Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			if !m.loading {
				m.loading = true
				m.err = nil
				return m, tea.Batch(m.spinner.Tick, m.loadCmd())
			}
			return m, nil
		case "enter":
			if item, ok := m.list.SelectedItem().(serverItem); ok {
				m.choice = item.name
				return m, tea.Quit
			}
			return m, nil
		}

	case serversMsg:
		m.loading = false
		items := make([]list.Item, 0, len(msg))
		selected := 0
		for i, name := range msg {
			items = append(items, serverItem{name: name, current: name == m.current})
			if name == m.current {
				selected = i
			}
		}
		cmd := m.list.SetItems(items)
		m.list.Select(selected)
		return m, cmd

	case loadErrMsg:
		m.loading = false
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Picker) View() string {
	switch {
	case m.loading:
		return fmt.Sprintf("\n %s Fetching servers...\n", m.spinner.View())
	case m.err != nil:
		return fmt.Sprintf("\n %s\n\n %s\n",
			errorStyle.Render("Failed to fetch servers: "+m.err.Error()),
			helpStyle.Render("r: retry • q: quit"))
	case len(m.list.Items()) == 0:
		return fmt.Sprintf("\n No servers available.\n\n %s\n", helpStyle.Render("r: retry • q: quit"))
	}
	return m.list.View()
}

// PickServer runs the picker on the terminal and returns the chosen server.
func PickServer(ctx context.Context, load LoadFunc, current string) (string, error) {
	p := tea.NewProgram(NewPicker(ctx, load, current), tea.WithContext(ctx), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return "", err
	}
	m := final.(Picker)
	if m.choice == "" {
		if m.err != nil {
			return "", m.err
		}
		return "", ErrNoSelection
	}
	return m.choice, nil
}
