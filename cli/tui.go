package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fahmaliyi/csvault/vault"
)

const (
	clipboardTTL = 30 * time.Second
	revealTTL    = 5 * time.Second
)

type viewState int

const (
	stateTable viewState = iota
	stateShowEntry
	stateAddEntry
)

// Add form fields, in focus order.
const (
	inputTitle = iota
	inputUsername
	inputPassword
	inputURL
	inputGroup
	inputNotes
	inputCount
)

type clearMsg struct{ seq int }

type model struct {
	vault      *vault.Vault
	entries    []vault.Entry
	cursor     int
	state      viewState
	textInputs []textinput.Model
	selected   *vault.Entry
	revealed   bool
	msg        string
	msgSeq     int

	// copyToClipboard is swapped out in tests.
	copyToClipboard func(string) error
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	msgStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("0"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
)

// RunTUI browses the entries of an unlocked entry vault.
func RunTUI(v *vault.Vault) error {
	m, err := newModel(v)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(m).Run()
	return err
}

func newModel(v *vault.Vault) (model, error) {
	entries, err := v.List()
	if err != nil {
		return model{}, err
	}
	return model{
		vault:           v,
		entries:         entries,
		state:           stateTable,
		textInputs:      newInputs(),
		copyToClipboard: copyAndClear,
	}, nil
}

func newInputs() []textinput.Model {
	inputs := make([]textinput.Model, inputCount)
	placeholders := [inputCount]string{"Title", "Username", "Password", "URL", "Group", "Notes"}
	for i := range inputs {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 512
		if i == inputPassword {
			ti.EchoMode = textinput.EchoPassword
			ti.EchoCharacter = '*'
		}
		inputs[i] = ti
	}
	return inputs
}

// copyAndClear writes s to the clipboard and empties it after clipboardTTL.
func copyAndClear(s string) error {
	if err := clipboard.WriteAll(s); err != nil {
		return err
	}
	time.AfterFunc(clipboardTTL, func() {
		_ = clipboard.WriteAll("")
	})
	return nil
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if c, ok := msg.(clearMsg); ok {
		if c.seq == m.msgSeq {
			m.msg = ""
			m.revealed = false
		}
		return m, nil
	}

	switch m.state {
	case stateShowEntry:
		return updateShowEntry(m, msg)
	case stateAddEntry:
		return updateAddEntry(m, msg)
	default:
		return updateTable(m, msg)
	}
}

func (m model) View() string {
	switch m.state {
	case stateShowEntry:
		return viewShowEntry(m)
	case stateAddEntry:
		return viewAddEntry(m)
	default:
		return viewTable(m)
	}
}

// flash shows text until ttl passes or another message replaces it.
func (m *model) flash(text string, ttl time.Duration) tea.Cmd {
	m.msg = text
	m.msgSeq++
	seq := m.msgSeq
	return tea.Tick(ttl, func(time.Time) tea.Msg { return clearMsg{seq: seq} })
}

func (m *model) refresh() {
	entries, err := m.vault.List()
	if err != nil {
		m.msg = err.Error()
		return
	}
	m.entries = entries
	if m.cursor >= len(m.entries) && m.cursor > 0 {
		m.cursor = len(m.entries) - 1
	}
}

// --- Table ---

func updateTable(m model, msg tea.Msg) (model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "j", "down":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "enter":
		if len(m.entries) > 0 {
			e := m.entries[m.cursor]
			m.selected = &e
			m.revealed = false
			m.msg = ""
			m.state = stateShowEntry
		}
	case "a":
		m.textInputs = newInputs()
		m.textInputs[inputTitle].Focus()
		m.msg = ""
		m.state = stateAddEntry
		return m, textinput.Blink
	case "d":
		if len(m.entries) == 0 {
			return m, nil
		}
		e, err := m.vault.DeleteAt(m.cursor)
		if err != nil {
			cmd := m.flash(err.Error(), revealTTL)
			return m, cmd
		}
		if err := m.vault.Save(); err != nil {
			cmd := m.flash("Error saving vault: "+err.Error(), revealTTL)
			return m, cmd
		}
		m.refresh()
		cmd := m.flash(fmt.Sprintf("Deleted %q", e.Title), revealTTL)
		return m, cmd
	case "c":
		if len(m.entries) == 0 {
			return m, nil
		}
		if err := m.copyToClipboard(m.entries[m.cursor].Password); err != nil {
			cmd := m.flash("Clipboard unavailable: "+err.Error(), revealTTL)
			return m, cmd
		}
		cmd := m.flash("Password copied! (clears in 30s)", clipboardTTL)
		return m, cmd
	}
	return m, nil
}

func viewTable(m model) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Vault Entries") + "\n\n")
	if len(m.entries) == 0 {
		b.WriteString("No entries yet. Press 'a' to add one.\n")
	}
	for i, e := range m.entries {
		line := fmt.Sprintf("%-3d %-24s  %-20s  %-16s", i+1, truncate(e.Title, 24), truncate(e.Username, 20), truncate(e.Group, 16))
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if m.msg != "" {
		b.WriteString("\n" + msgStyle.Render(m.msg) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("j/k=move, enter=show, a=add, d=delete, c=copy, q=quit"))
	return b.String()
}

// --- Show Entry ---

func updateShowEntry(m model, msg tea.Msg) (model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "esc", "q":
		m.state = stateTable
		m.selected = nil
		m.revealed = false
		m.msg = ""
	case "v":
		m.revealed = true
		cmd := m.flash("", revealTTL)
		return m, cmd
	case "c":
		if err := m.copyToClipboard(m.selected.Password); err != nil {
			cmd := m.flash("Clipboard unavailable: "+err.Error(), revealTTL)
			return m, cmd
		}
		cmd := m.flash("Password copied! (clears in 30s)", clipboardTTL)
		return m, cmd
	}
	return m, nil
}

func viewShowEntry(m model) string {
	e := m.selected
	password := "********"
	if m.revealed {
		password = e.Password
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(e.Title) + "\n\n")
	writeEntry(&b, *e, password)
	if m.msg != "" {
		b.WriteString("\n" + msgStyle.Render(m.msg) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("v=reveal (5s), c=copy, esc=back"))
	return b.String()
}

// --- Add Entry ---

func updateAddEntry(m model, msg tea.Msg) (model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			m.state = stateTable
			m.msg = ""
			return m, nil
		case "tab", "down":
			cmd := m.focus(1)
			return m, cmd
		case "shift+tab", "up":
			cmd := m.focus(-1)
			return m, cmd
		case "ctrl+s":
			return saveAddEntry(m)
		case "enter":
			if m.textInputs[inputCount-1].Focused() {
				return saveAddEntry(m)
			}
			cmd := m.focus(1)
			return m, cmd
		}
	}

	cmds := make([]tea.Cmd, len(m.textInputs))
	for i := range m.textInputs {
		m.textInputs[i], cmds[i] = m.textInputs[i].Update(msg)
	}
	return m, tea.Batch(cmds...)
}

// focus moves focus by delta inputs, wrapping around.
func (m *model) focus(delta int) tea.Cmd {
	n := len(m.textInputs)
	current := 0
	for i := range m.textInputs {
		if m.textInputs[i].Focused() {
			current = i
			m.textInputs[i].Blur()
			break
		}
	}
	return m.textInputs[(current+delta+n)%n].Focus()
}

func saveAddEntry(m model) (model, tea.Cmd) {
	if strings.TrimSpace(m.textInputs[inputTitle].Value()) == "" {
		m.msg = "Title is required"
		return m, nil
	}

	e, err := m.vault.Add(vault.Entry{
		Title:    m.textInputs[inputTitle].Value(),
		Username: m.textInputs[inputUsername].Value(),
		Password: m.textInputs[inputPassword].Value(),
		URL:      m.textInputs[inputURL].Value(),
		Group:    m.textInputs[inputGroup].Value(),
		Notes:    m.textInputs[inputNotes].Value(),
	})
	if err != nil {
		m.msg = err.Error()
		return m, nil
	}
	if err := m.vault.Save(); err != nil {
		m.msg = "Error saving vault: " + err.Error()
		return m, nil
	}

	m.textInputs = newInputs()
	m.refresh()
	m.cursor = len(m.entries) - 1
	m.state = stateTable
	cmd := m.flash(fmt.Sprintf("Added %q", e.Title), revealTTL)
	return m, cmd
}

func viewAddEntry(m model) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Add New Entry") + "\n\n")
	for _, ti := range m.textInputs {
		fmt.Fprintf(&b, "%-9s %s\n", ti.Placeholder+":", ti.View())
	}
	if m.msg != "" {
		b.WriteString("\n" + errStyle.Render(m.msg) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("tab=next field, enter on last field or ctrl+s=save, esc=cancel"))
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
