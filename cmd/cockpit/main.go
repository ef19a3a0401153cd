// Cockpit provides a TUI to view and manipulate register contents of a
// running simulator through its modbus interface. Registers bound to custom
// actions show the values the actions produce, not necessarily the stored
// ones.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rwirdemann/modsim"
	"github.com/rwirdemann/modsim/modbus"
)

const (
	focusRegisterList = iota
	focusRegisterInput
)

var baseStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder())

var activeStyle = baseStyle.
	BorderForeground(lipgloss.Color("white"))

var passiveStyle = baseStyle.
	BorderForeground(lipgloss.Color("240"))

var helpStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
	Light: "#909090",
	Dark:  "#626262",
}).Padding(0, 1)

type slave struct {
	modsim.Slave
	url        string
	modbusPort modbusPort
	Registers  []modsim.Register
}

var slaves []slave

type modbusPort interface {
	ReadRegister(register []modsim.Register) []modsim.Register
	WriteRegister(register modsim.Register) error
	Close()
}

func main() {
	configPath := flag.String("config", "config", "config base directory")
	flag.Parse()

	config, err := modsim.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Parse config into slave slices which is used by the view as its data
	// model.
	for _, serial := range config.Serials {
		adapter, err := modbus.NewAdapter(serial)
		if err != nil {
			log.Fatal(err)
		}
		for _, s := range serial.Slaves {
			slaves = append(slaves, slave{
				Slave:      s,
				url:        serial.Url,
				modbusPort: adapter,
				Registers:  configuredRegisters(s),
			})
		}
	}
	if len(slaves) == 0 {
		fmt.Println("no slaves configured")
		os.Exit(1)
	}

	defer func() {
		for _, s := range slaves {
			s.modbusPort.Close()
		}
	}()

	if _, err := tea.NewProgram(newModel(), tea.WithAltScreen()).Run(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}

func configuredRegisters(s modsim.Slave) []modsim.Register {
	var registers []modsim.Register
	for _, r := range s.Registers {
		registers = append(registers, modsim.Register{
			SlaveAddress: uint8(s.Address),
			Address:      r.Address,
			RegisterType: r.Type,
			Action:       r.Action,
			Value:        r.Value,
		})
	}
	return registers
}

type model struct {
	focus           int
	registerTable   table.Model
	register        []modsim.Register
	currentRegister modsim.Register
	registerInput   textinput.Model
}

func newModel() model {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(true)

	columns := []table.Column{
		{Title: "Slave", Width: 6},
		{Title: "Address", Width: 8},
		{Title: "Action", Width: 6},
		{Title: "Type", Width: 10},
		{Title: "Value", Width: 10},
	}

	registers := slaves[0].modbusPort.ReadRegister(slaves[0].Registers)
	registerTable := table.New(
		table.WithColumns(columns),
		table.WithRows(registersToTableRows(registers)),
		table.WithFocused(true),
	)
	registerTable.SetStyles(s)

	return model{
		registerTable: registerTable,
		registerInput: textinput.New(),
		focus:         focusRegisterList,
		register:      registers,
	}
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second*1, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd { return tickCmd() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmds []tea.Cmd
		cmd  tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.focus != focusRegisterInput {
				return m, tea.Quit
			}

		case "enter":
			if m.focus == focusRegisterList && len(m.register) > 0 {
				m.currentRegister = m.register[m.registerTable.Cursor()]
				m.registerInput.SetValue(fmt.Sprintf("%d", m.currentRegister.Value))
				m.registerInput.Focus()
				m.focus = focusRegisterInput
				return m, nil
			}
			if m.focus == focusRegisterInput {
				m.currentRegister.Value = toUint16(m.registerInput.Value())
				if err := slaveFor(m.currentRegister).modbusPort.WriteRegister(m.currentRegister); err != nil {
					log.Println(err)
				}
				m.registerInput.Blur()
				m.focus = focusRegisterList
				return m, nil
			}

		case "esc":
			if m.focus == focusRegisterInput {
				m.registerInput.Blur()
				m.focus = focusRegisterList
				return m, nil
			}
		}

	case tickMsg:
		if m.focus == focusRegisterList {
			m.register = slaves[0].modbusPort.ReadRegister(slaves[0].Registers)
			m.registerTable.SetRows(registersToTableRows(m.register))
		}
		cmds = append(cmds, tickCmd())
	}

	if m.focus == focusRegisterInput {
		m.registerInput, cmd = m.registerInput.Update(msg)
	} else {
		m.registerTable, cmd = m.registerTable.Update(msg)
	}
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	registerStyle := passiveStyle
	inputStyle := passiveStyle
	if m.focus == focusRegisterList {
		registerStyle = activeStyle
	} else {
		inputStyle = activeStyle
	}
	registerStyle = registerStyle.Border(generateBorder("Registers", 60))
	inputStyle = inputStyle.Border(generateBorder("Value", 60))

	help := helpStyle.Render("enter - edit/write • esc - cancel • q - quit")
	return lipgloss.JoinVertical(lipgloss.Top,
		registerStyle.Render(m.registerTable.View()),
		inputStyle.Render(m.registerInput.View()),
		help)
}

func generateBorder(title string, width int) lipgloss.Border {
	if width < 0 {
		return lipgloss.RoundedBorder()
	}
	border := lipgloss.RoundedBorder()
	border.Top = border.Top + border.MiddleRight + " " + title + " " + border.MiddleLeft + strings.Repeat(border.Top, width)
	return border
}

func slaveFor(r modsim.Register) slave {
	for _, s := range slaves {
		if uint8(s.Address) == r.SlaveAddress {
			return s
		}
	}
	return slaves[0]
}

func registersToTableRows(registers []modsim.Register) []table.Row {
	var rows []table.Row
	for _, r := range registers {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", r.SlaveAddress),
			fmt.Sprintf("0x%X", r.Address),
			r.Action,
			r.RegisterType,
			fmt.Sprintf("%d", r.Value),
		})
	}
	return rows
}

func toUint16(s string) uint16 {
	i, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		log.Println(err)
		return 0
	}
	return uint16(i)
}
