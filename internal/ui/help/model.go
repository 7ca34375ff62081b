package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/sortify/internal/keys"
	"github.com/nhle/sortify/internal/theme"
)

var paletteHelp = []string{
	"logout            end the session",
	"connect gmail     link a Gmail mailbox",
	"connect outlook   link an Outlook mailbox",
	"connect cancel    abandon a pending browser sign-in",
	"verify send       email a verification link",
	"verify <token>    confirm your email address",
	"sync              ask for the current sync status",
	"reconnect         reopen the realtime stream",
	"refresh           reload your profile",
	"read              mark all notifications read",
	"clear             delete cached notifications",
}

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	m.help.Width = m.width - 4
	m.help.ShowAll = true

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		theme.TitleStyle.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		theme.TitleStyle.Render("Commands"),
		theme.HelpStyle.Render(strings.Join(paletteHelp, "\n")),
	)

	return theme.PanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
