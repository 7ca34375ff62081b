package app

import (
	"context"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/sortify/internal/keys"
	"github.com/nhle/sortify/internal/logging"
	"github.com/nhle/sortify/internal/model"
	"github.com/nhle/sortify/internal/realtime"
	"github.com/nhle/sortify/internal/session"
	"github.com/nhle/sortify/internal/store"
	appsync "github.com/nhle/sortify/internal/sync"
	"github.com/nhle/sortify/internal/theme"
	"github.com/nhle/sortify/internal/ui"
	"github.com/nhle/sortify/internal/ui/command"
	"github.com/nhle/sortify/internal/ui/dashboard"
	helpview "github.com/nhle/sortify/internal/ui/help"
	"github.com/nhle/sortify/internal/ui/login"
)

// Session is the credential authority the UI drives. *session.Manager
// implements it.
type Session interface {
	Restore(ctx context.Context)
	Login(ctx context.Context, email, password string) session.Result
	Register(ctx context.Context, name, email, password string) session.Result
	Logout()
	RefreshIdentity(ctx context.Context) session.Result
	ForgotPassword(ctx context.Context, email string) session.Result
	ResetPassword(ctx context.Context, resetToken, password string) session.Result
	SendEmailVerification(ctx context.Context) session.Result
	VerifyEmail(ctx context.Context, verificationToken string) session.Result
	Snapshot() session.Session
}

// Realtime is the part of *realtime.Channel the UI uses.
type Realtime interface {
	Connect(ctx context.Context)
	Status() realtime.Status
	Attempt() int
	RequestSyncStatus() bool
}

// Feed delivers realtime events as tea messages. *appsync.Feed
// implements it.
type Feed interface {
	Start() tea.Cmd
	Stop()
	WaitForNext() tea.Cmd
	SyncState() appsync.SyncState
}

// OAuth runs the browser sign-in round trip. *oauth.Flow implements it.
type OAuth interface {
	Begin(ctx context.Context, provider string) (string, error)
	Wait(ctx context.Context) session.Result
	Cancel()
}

// Deps bundles the collaborators the root model drives.
type Deps struct {
	Ctx         context.Context
	Session     Session
	Channel     Realtime
	Feed        Feed
	Store       store.Store
	OAuth       OAuth
	MaxAttempts int
	Log         *slog.Logger
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLoading ViewState = iota
	ViewLogin
	ViewDashboard
	ViewHelp
	ViewCommand
)

const sessionExpiredText = "Your session has expired. Please sign in again."

// Model is the root Bubble Tea model that manages view routing and
// layout, and drives the session and realtime collaborators.
type Model struct {
	deps Deps
	ctx  context.Context
	log  *slog.Logger

	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	loginView    login.Model
	dashboard    dashboard.Model
	helpView     helpview.Model
	commandView  command.Model
	ready        bool

	notice         string
	noticeIsErr    bool
	oauthBusy      bool
	oauthCancelled bool
}

// New creates a new root application model.
func New(deps Deps) Model {
	ctx := deps.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	km := keys.DefaultKeyMap()
	dash := dashboard.New(80, 24)
	dash.SetMaxAttempts(deps.MaxAttempts)

	return Model{
		deps:        deps,
		ctx:         ctx,
		log:         logging.OrDefault(deps.Log),
		currentView: ViewLoading,
		keys:        km,
		loginView:   login.New(80, 24),
		dashboard:   dash,
		helpView:    helpview.New(km, 80, 24),
		commandView: command.New(80, 24),
	}
}

// Init restores the persisted session and starts listening to the feed.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.restore(),
		m.deps.Feed.Start(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.loginView.SetSize(contentWidth, contentHeight)
		m.dashboard.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case restoredMsg:
		return m.routeSession(msg.sess)

	case login.SubmitMsg:
		cmd := m.submit(msg)
		return m, cmd

	case login.CancelMsg:
		cmd := m.cancelOAuth()
		return m, cmd

	case authResultMsg:
		return m.handleAuthResult(msg)

	case oauthStartedMsg:
		return m.handleOAuthStarted(msg)

	case commandResultMsg:
		if msg.text != "" {
			m.setNotice(msg.text, msg.isErr)
		}
		if msg.sess != nil {
			if !msg.sess.Authenticated {
				return m.expired()
			}
			m.dashboard.SetUser(msg.sess.Identity)
		}
		return m, nil

	case notificationsLoadedMsg:
		if msg.err != nil {
			m.log.Warn("app.notifications.load_failed", "err", msg.err)
			return m, nil
		}
		m.dashboard.SetNotifications(msg.list)
		return m, nil

	case loggedOutMsg:
		m.dashboard.SetUser(nil)
		m.dashboard.SetNotifications(nil)
		m.currentView = ViewLogin
		m.setNotice("Signed out.", false)
		cmd := m.loginView.Start()
		return m, cmd

	case appsync.EventMsg:
		m.dashboard.Prepend(msg.Notification)
		if msg.Notification.Kind == model.EventSyncStatus {
			m.dashboard.SetSyncStatus(m.deps.Feed.SyncState().Status)
		}
		return m, m.deps.Feed.WaitForNext()

	case appsync.StatusMsg:
		m.dashboard.SetConnection(msg.Status, msg.Attempt)
		return m, m.deps.Feed.WaitForNext()

	case appsync.FailedMsg:
		m.setNotice(msg.Message, true)
		return m, m.deps.Feed.WaitForNext()

	case command.CommandMsg:
		if m.currentView == ViewCommand {
			m.currentView = m.previousView
		}
		cmd := m.executeCommand(string(msg))
		return m, cmd

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	return m.updateActiveView(msg)
}

// handleKey processes global keys. It reports false when the key should
// fall through to the active view.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		return m.quit(), true
	}

	switch m.currentView {
	case ViewHelp:
		switch msg.String() {
		case "?", "esc", "q":
			m.currentView = m.previousView
			return nil, true
		}
		return nil, true

	case ViewCommand:
		if msg.String() == "esc" {
			m.currentView = m.previousView
			return nil, true
		}
		return nil, false

	case ViewDashboard:
	default:
		return nil, false
	}

	switch msg.String() {
	case "q":
		return m.quit(), true
	case "?":
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return nil, true
	case ":":
		m.previousView = m.currentView
		m.currentView = ViewCommand
		return m.commandView.Focus(), true
	case "esc":
		m.clearNotice()
		return nil, true
	case "s":
		return m.executeCommand("sync"), true
	case "R":
		return m.executeCommand("reconnect"), true
	case "m":
		return m.executeCommand("read"), true
	case "g":
		return m.executeCommand("connect gmail"), true
	case "o":
		return m.executeCommand("connect outlook"), true
	case "L":
		return m.executeCommand("logout"), true
	}
	return nil, false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(m.headerTitle(), m.headerStatus())
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.statusLine())

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLoading:
		return theme.HelpStyle.Render("Restoring session...")
	case ViewLogin:
		return m.loginView.View()
	case ViewDashboard:
		return m.dashboard.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

func (m Model) headerTitle() string {
	if n := m.dashboard.Unread(); n > 0 && m.currentView != ViewLogin {
		return fmt.Sprintf("Sortify [%d new]", n)
	}
	return "Sortify"
}

// headerStatus summarizes the session and realtime state.
func (m Model) headerStatus() string {
	switch m.currentView {
	case ViewLoading:
		return "starting"
	case ViewLogin:
		return "signed out"
	}
	return "realtime: " + string(m.dashboard.Status())
}

// statusLine shows the current notice, or keyboard hints when there is
// none.
func (m Model) statusLine() string {
	if m.notice != "" {
		if m.noticeIsErr {
			return "! " + m.notice
		}
		return m.notice
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return ": close command | enter execute | esc back"
	case ViewLogin:
		return "enter select | tab next field | esc back | ctrl+c quit"
	case ViewLoading:
		return "ctrl+c quit"
	default:
		return "q quit | ? help | : command | s sync | m read | L logout"
	}
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeIsErr = isErr
}

func (m *Model) clearNotice() {
	m.notice = ""
	m.noticeIsErr = false
}

func (m *Model) quit() tea.Cmd {
	m.deps.Feed.Stop()
	if m.deps.OAuth != nil {
		m.deps.OAuth.Cancel()
	}
	return tea.Quit
}
