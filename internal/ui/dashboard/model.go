package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/sortify/internal/model"
	"github.com/nhle/sortify/internal/realtime"
	"github.com/nhle/sortify/internal/theme"
)

// feedLimit caps how many notifications the feed keeps in memory.
const feedLimit = 200

// profileHeight is the number of rows the profile block occupies.
const profileHeight = 4

// Model shows the signed-in user's profile, the realtime connection and
// the notification feed.
type Model struct {
	viewport      viewport.Model
	user          *model.User
	notifications []model.Notification
	status        realtime.Status
	attempt       int
	maxAttempts   int
	syncStatus    string
	width         int
	height        int
}

// New creates an empty dashboard.
func New(width, height int) Model {
	return Model{
		viewport:    viewport.New(width, feedHeight(height)),
		status:      realtime.StatusDisconnected,
		maxAttempts: realtime.DefaultMaxAttempts,
		width:       width,
		height:      height,
	}
}

// SetUser replaces the displayed profile. nil shows a placeholder.
func (m *Model) SetUser(u *model.User) {
	m.user = u
}

// SetConnection records the realtime status and attempt counter.
func (m *Model) SetConnection(s realtime.Status, attempt int) {
	m.status = s
	m.attempt = attempt
}

// SetMaxAttempts sets the reconnect cap shown next to the attempt counter.
func (m *Model) SetMaxAttempts(n int) {
	if n > 0 {
		m.maxAttempts = n
	}
}

// SetSyncStatus records the last backend sync state.
func (m *Model) SetSyncStatus(s string) {
	m.syncStatus = s
}

// SetNotifications replaces the feed; list is newest first.
func (m *Model) SetNotifications(list []model.Notification) {
	m.notifications = append([]model.Notification(nil), list...)
	m.refresh()
	m.viewport.GotoTop()
}

// Prepend adds a new notification to the top of the feed.
func (m *Model) Prepend(n model.Notification) {
	m.notifications = append([]model.Notification{n}, m.notifications...)
	if len(m.notifications) > feedLimit {
		m.notifications = m.notifications[:feedLimit]
	}
	m.refresh()
}

// MarkAllRead flags every loaded notification as read.
func (m *Model) MarkAllRead() {
	for i := range m.notifications {
		m.notifications[i].Read = true
	}
	m.refresh()
}

// Unread returns the number of unread notifications in the feed.
func (m Model) Unread() int {
	n := 0
	for _, item := range m.notifications {
		if !item.Read {
			n++
		}
	}
	return n
}

// Status returns the last recorded realtime status.
func (m Model) Status() realtime.Status {
	return m.status
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update scrolls the feed.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the dashboard.
func (m Model) View() string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderProfile(),
		m.viewport.View(),
	)
}

// SetSize updates the dashboard dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = feedHeight(height)
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderFeed())
}

func (m Model) renderProfile() string {
	var lines []string

	if m.user == nil {
		lines = append(lines, theme.HelpStyle.Render("Profile unavailable. Run :refresh to retry."))
	} else {
		verified := theme.SuccessStyle.Render("verified")
		if !m.user.EmailVerified {
			verified = theme.ErrorStyle.Render("unverified (:verify send)")
		}
		lines = append(lines,
			fmt.Sprintf("%s <%s> %s", m.user.DisplayName(), m.user.Email, verified),
			fmt.Sprintf("Gmail: %s   Outlook: %s",
				connectedLabel(m.user.GmailConnected), connectedLabel(m.user.OutlookConnected)),
		)
	}

	conn := theme.ConnectionStyle(string(m.status)).Render(string(m.status))
	if m.attempt > 0 {
		conn += fmt.Sprintf(" (attempt %d/%d)", m.attempt, m.maxAttempts)
	}
	line := "Realtime: " + conn
	if m.syncStatus != "" {
		line += "  Sync: " + m.syncStatus
	}
	lines = append(lines, line)

	return lipgloss.NewStyle().
		Height(profileHeight).
		Render(strings.Join(lines, "\n"))
}

func (m Model) renderFeed() string {
	if len(m.notifications) == 0 {
		return theme.HelpStyle.Render("No notifications yet. New mail and sync updates appear here.")
	}

	var b strings.Builder
	for i, n := range m.notifications {
		if i > 0 {
			b.WriteString("\n")
		}
		label := theme.KindLabelStyle(n.Kind).Render(kindLabel(n.Kind))
		line := fmt.Sprintf("%s %s %s", n.CreatedAt.Local().Format("15:04"), label, n.Message)
		if n.Read {
			b.WriteString(theme.ReadItemStyle.Render(line))
		} else {
			b.WriteString(theme.UnreadItemStyle.Render(line))
		}
	}
	return b.String()
}

func feedHeight(height int) int {
	h := height - profileHeight
	if h < 1 {
		return 1
	}
	return h
}

func kindLabel(kind string) string {
	switch kind {
	case model.EventEmailSynced:
		return "mail"
	case model.EventCategoryUpdated:
		return "category"
	case model.EventSyncStatus:
		return "sync"
	default:
		return kind
	}
}

func connectedLabel(ok bool) string {
	if ok {
		return theme.SuccessStyle.Render("connected")
	}
	return theme.HelpStyle.Render("not connected")
}
