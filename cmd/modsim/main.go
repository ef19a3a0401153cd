// Modsim runs the modbus simulator with a TUI to take the configured slaves
// on and off the bus and to follow the request log, including the invocations
// of custom actions bound via config.json.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rwirdemann/modsim"
)

var (
	itemStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			PaddingRight(1)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				PaddingRight(1).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#F25D94"))

	slaveStyle = lipgloss.NewStyle().Height(20).Width(49).Border(lipgloss.NormalBorder())
	logStyle   = lipgloss.NewStyle().Height(20).Width(70).Border(lipgloss.NormalBorder())
)

// Slave represents an entry in the slave list. A slave holds a reference to
// the server it belongs to in order to inform the server whether the slave is
// online or not.
type Slave struct {
	URL     string
	ID      int
	Name    string
	Actions int
	online  bool
	Server  *modsim.ModbusServer
}

func (c Slave) Description() string {
	connected := " online"
	if !c.online {
		connected = "offline"
	}
	return fmt.Sprintf("%-20s %3d %10s %2d actions %-10s", c.URL, c.ID, c.Name, c.Actions, connected)
}

func (c Slave) FilterValue() string {
	return c.URL + " " + c.Name
}

type model struct {
	list     list.Model
	quitting bool
	logger   *logger
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second*1, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch keypress := msg.String(); keypress {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case "enter":
			if len(m.list.Items()) > 0 {
				selected := m.list.SelectedItem().(Slave)
				ts := time.Now().Format(time.DateTime)
				if selected.online {
					selected.Server.Disconnect(selected.ID)
					m.logger.Append(fmt.Sprintf("%s %s:%d: disconnected", ts, selected.URL, selected.ID))
				} else {
					selected.Server.Connect(selected.ID)
					m.logger.Append(fmt.Sprintf("%s %s:%d: connected", ts, selected.URL, selected.ID))
				}
				selected.online = !selected.online
				return m, m.list.SetItem(m.list.Index(), selected)
			}
			return m, nil
		}
	case tickMsg:
		cmds = append(cmds, tickCmd())
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder

	for i, item := range m.list.Items() {
		slave := item.(Slave)

		var style lipgloss.Style
		if i == m.list.Index() {
			style = selectedItemStyle
		} else {
			style = itemStyle
		}

		b.WriteString(style.Render(slave.Description()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString("Press 'enter' to connect, 'q' to quit")

	var logs = logStyle.Render(m.logger.String())
	return lipgloss.JoinHorizontal(lipgloss.Top, slaveStyle.Render(b.String()), logs)
}

// logger collects the log lines shown in the right panel. Append is called
// from the server's connection goroutines while the view renders, hence the
// lock.
type logger struct {
	mu    sync.Mutex
	items []string
}

func (l *logger) Append(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) >= 20 {
		l.items = l.items[:19]
	}
	l.items = append([]string{s}, l.items...)
}

func (l *logger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.items, "\n")
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config", "path to the configuration directory")
	flag.Parse()
	if configPath == "" {
		flag.PrintDefaults()
		os.Exit(0)
	}

	config, err := modsim.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	registry := modsim.NewRegistry()
	logger := &logger{}
	var slaves []list.Item
	for _, serial := range config.Serials {
		ms, err := modsim.NewConfiguredServer(serial, registry, logger)
		if err != nil {
			log.Fatal(err)
		}
		if err := ms.Start(); err != nil {
			log.Fatal(err)
		}

		for _, slave := range serial.Slaves {
			c := Slave{
				URL:     serial.Url,
				ID:      slave.Address,
				Name:    slave.Type,
				Actions: len(slave.Actions),
				Server:  ms,
			}
			slaves = append(slaves, c)
		}
	}

	l := list.New(slaves, list.NewDefaultDelegate(), 0, 0)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)

	m := model{
		list:   l,
		logger: logger,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
