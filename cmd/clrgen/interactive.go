package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type methodEntry struct {
	typeName string
	method   methodDump
}

func (e methodEntry) title() string {
	return e.method.Signature
}

type modelState int

const (
	stateSelectMethod modelState = iota
	stateShowMethod
)

type interactiveModel struct {
	filename string
	dump     *assemblyDump
	all      []methodEntry
	visible  []methodEntry
	filter   textinput.Model
	selected int
	offset   int
	height   int
	state    modelState
}

func newInteractiveModel(filename string, d *assemblyDump) *interactiveModel {
	var all []methodEntry
	for _, t := range d.Types {
		for _, m := range t.Methods {
			all = append(all, methodEntry{typeName: t.Name, method: m})
		}
	}
	filter := textinput.New()
	filter.Prompt = "filter: "
	filter.Placeholder = "type or method name"
	filter.Width = 40
	filter.Focus()
	m := &interactiveModel{
		filename: filename,
		dump:     d,
		all:      all,
		filter:   filter,
		height:   20,
		state:    stateSelectMethod,
	}
	m.applyFilter()
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) applyFilter() {
	q := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for _, e := range m.all {
		if q == "" || strings.Contains(strings.ToLower(e.title()), q) {
			m.visible = append(m.visible, e)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = max(len(m.visible)-1, 0)
	}
	m.scroll()
}

func (m *interactiveModel) scroll() {
	if m.selected < m.offset {
		m.offset = m.selected
	}
	if m.selected >= m.offset+m.height {
		m.offset = m.selected - m.height + 1
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = max(msg.Height-8, 3)
		m.scroll()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state == stateShowMethod {
				return m, tea.Quit
			}

		case "up":
			if m.state == stateSelectMethod && m.selected > 0 {
				m.selected--
				m.scroll()
			}
			return m, nil

		case "down":
			if m.state == stateSelectMethod && m.selected < len(m.visible)-1 {
				m.selected++
				m.scroll()
			}
			return m, nil

		case "enter":
			if m.state == stateSelectMethod && len(m.visible) > 0 {
				m.state = stateShowMethod
				m.filter.Blur()
			} else if m.state == stateShowMethod {
				m.back()
			}
			return m, nil

		case "esc":
			if m.state == stateShowMethod {
				m.back()
				return m, nil
			}
			return m, tea.Quit
		}
	}

	if m.state == stateSelectMethod {
		var cmd tea.Cmd
		before := m.filter.Value()
		m.filter, cmd = m.filter.Update(msg)
		if m.filter.Value() != before {
			m.applyFilter()
		}
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) back() {
	m.state = stateSelectMethod
	m.filter.Focus()
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("CLR Inspector"))
	b.WriteString(" ")
	b.WriteString(m.dump.Name)
	b.WriteString("\n")
	b.WriteString(pathStyle.Render(m.filename))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectMethod:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		if len(m.visible) == 0 {
			b.WriteString(errorStyle.Render("no matching methods"))
			b.WriteString("\n")
		}
		end := min(m.offset+m.height, len(m.visible))
		for i := m.offset; i < end; i++ {
			e := m.visible[i]
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + e.title()))
			} else {
				b.WriteString("  " + methodStyle.Render(e.title()))
			}
			if e.method.Signature == m.dump.EntryPoint {
				b.WriteString(headerStyle.Render("  [entry]"))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(fmt.Sprintf("%d/%d • ↑/↓ select • enter show • esc quit", len(m.visible), len(m.all))))

	case stateShowMethod:
		e := m.visible[m.selected]
		b.WriteString(headerStyle.Render(e.typeName))
		b.WriteString("\n")
		b.WriteString(methodStyle.Render(e.method.Signature))
		b.WriteString("\n\n")
		lines := methodLines(e.method)
		if len(lines) == 0 {
			b.WriteString(pathStyle.Render("no body"))
			b.WriteString("\n")
		}
		for _, l := range lines {
			b.WriteString("  ")
			b.WriteString(l)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter/esc back • q quit"))
	}

	return b.String()
}

func runInteractive(filename string, d *assemblyDump) error {
	p := tea.NewProgram(newInteractiveModel(filename, d), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
