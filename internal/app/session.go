package app

import (
	"context"
	"errors"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/sortify/internal/api"
	"github.com/nhle/sortify/internal/model"
	"github.com/nhle/sortify/internal/oauth"
	"github.com/nhle/sortify/internal/session"
	"github.com/nhle/sortify/internal/store"
	"github.com/nhle/sortify/internal/ui/login"
)

// restoredMsg is sent once the persisted session has been restored.
type restoredMsg struct {
	sess session.Session
}

// authResultMsg carries the outcome of a signed-out flow.
type authResultMsg struct {
	mode login.Mode
	res  session.Result
	sess session.Session
}

// oauthStartedMsg carries the authorization URL, or the error that
// prevented the flow from starting.
type oauthStartedMsg struct {
	mode login.Mode
	url  string
	err  error
}

// notificationsLoadedMsg carries the cached feed.
type notificationsLoadedMsg struct {
	list []model.Notification
	err  error
}

// loggedOutMsg is sent after an explicit logout completes.
type loggedOutMsg struct{}

// restore adopts the persisted session. When none survives, the cache
// left by the previous account is dropped.
func (m Model) restore() tea.Cmd {
	s, ctx, st, log := m.deps.Session, m.ctx, m.deps.Store, m.log
	return func() tea.Msg {
		s.Restore(ctx)
		sess := s.Snapshot()
		if !sess.Authenticated {
			clearCache(ctx, st, log)
		}
		return restoredMsg{sess: sess}
	}
}

// clearCache deletes every cached notification. It runs whenever the
// session is found signed out so the next account starts with an empty
// feed.
func clearCache(ctx context.Context, st store.Store, log *slog.Logger) {
	if st == nil {
		return
	}
	if err := st.DeleteAll(ctx); err != nil {
		log.Warn("app.notifications.clear_failed", "err", err)
	}
}

// routeSession shows the dashboard for an authenticated session and the
// login screen otherwise.
func (m Model) routeSession(sess session.Session) (tea.Model, tea.Cmd) {
	if !sess.Authenticated {
		m.dashboard.SetUser(nil)
		m.dashboard.SetNotifications(nil)
		m.currentView = ViewLogin
		cmd := m.loginView.Start()
		return m, cmd
	}

	m.currentView = ViewDashboard
	m.dashboard.SetUser(sess.Identity)
	m.dashboard.SetConnection(m.deps.Channel.Status(), m.deps.Channel.Attempt())
	return m, m.loadNotifications()
}

// expired drops back to the login screen after the session was cleared
// by an unauthorized response.
func (m Model) expired() (tea.Model, tea.Cmd) {
	m.dashboard.SetUser(nil)
	m.dashboard.SetNotifications(nil)
	m.currentView = ViewLogin
	m.clearNotice()
	m.loginView.SetNotice(sessionExpiredText, true)
	cmd := m.loginView.Start()
	return m, cmd
}

func (m *Model) submit(msg login.SubmitMsg) tea.Cmd {
	s, ctx := m.deps.Session, m.ctx

	switch msg.Mode {
	case login.ModeGoogle:
		return m.beginOAuth(msg.Mode, api.ProviderGoogle)
	case login.ModeMicrosoft:
		return m.beginOAuth(msg.Mode, api.ProviderMicrosoft)
	}

	return func() tea.Msg {
		var res session.Result
		switch msg.Mode {
		case login.ModeRegister:
			res = s.Register(ctx, msg.Name, msg.Email, msg.Password)
		case login.ModeForgot:
			res = s.ForgotPassword(ctx, msg.Email)
		case login.ModeReset:
			res = s.ResetPassword(ctx, msg.Token, msg.Password)
		default:
			res = s.Login(ctx, msg.Email, msg.Password)
		}
		return authResultMsg{mode: msg.Mode, res: res, sess: s.Snapshot()}
	}
}

func (m Model) handleAuthResult(msg authResultMsg) (tea.Model, tea.Cmd) {
	m.oauthBusy = false
	m.oauthCancelled = false

	if msg.res.Success && msg.sess.Authenticated {
		m.setNotice(welcome(msg.sess.Identity), false)
		return m.routeSession(msg.sess)
	}

	if !msg.res.Success {
		if m.currentView != ViewLogin {
			m.setNotice(msg.res.Error, true)
			return m, nil
		}
		m.clearNotice()
		m.loginView.SetNotice(msg.res.Error, true)
		cmd := m.loginView.Finish(msg.mode, false)
		return m, cmd
	}

	m.loginView.SetNotice(resultText(msg.res), false)
	cmd := m.loginView.Finish(msg.mode, true)
	return m, cmd
}

func (m *Model) beginOAuth(mode login.Mode, provider string) tea.Cmd {
	if m.deps.OAuth == nil {
		return func() tea.Msg {
			return oauthStartedMsg{mode: mode, err: errors.New("OAuth sign-in is not available")}
		}
	}
	if m.oauthBusy {
		m.setNotice("A browser sign-in is already in progress.", true)
		return nil
	}
	m.oauthBusy = true
	m.oauthCancelled = false

	flow, ctx := m.deps.OAuth, m.ctx
	return func() tea.Msg {
		url, err := flow.Begin(ctx, provider)
		return oauthStartedMsg{mode: mode, url: url, err: err}
	}
}

func (m Model) handleOAuthStarted(msg oauthStartedMsg) (tea.Model, tea.Cmd) {
	onLogin := m.currentView == ViewLogin

	if msg.err != nil {
		m.oauthBusy = false
		m.oauthCancelled = false
		text := api.Message(msg.err, "Could not start browser sign-in: "+msg.err.Error())
		if onLogin {
			m.loginView.SetNotice(text, true)
			cmd := m.loginView.Finish(msg.mode, false)
			return m, cmd
		}
		m.setNotice(text, true)
		return m, nil
	}

	if m.oauthCancelled {
		flow := m.deps.OAuth
		next, cmd := m.handleAuthResult(authResultMsg{
			mode: msg.mode,
			res:  session.Result{Error: oauth.MsgCancelled},
			sess: m.deps.Session.Snapshot(),
		})
		return next, tea.Batch(cmd, func() tea.Msg {
			flow.Cancel()
			return nil
		})
	}

	text := "Open this link in your browser to continue: " + msg.url
	if onLogin {
		m.loginView.SetNotice(text, false)
	} else {
		m.setNotice(text, false)
	}
	return m, m.waitOAuth(msg.mode)
}

// cancelOAuth abandons the browser sign-in in flight. Wait then returns
// a cancelled result, which clears the busy state. A cancel that lands
// before Begin returns is remembered and applied when it does.
func (m *Model) cancelOAuth() tea.Cmd {
	if !m.oauthBusy || m.deps.OAuth == nil {
		return nil
	}
	m.oauthCancelled = true
	flow := m.deps.OAuth
	return func() tea.Msg {
		flow.Cancel()
		return nil
	}
}

func (m Model) waitOAuth(mode login.Mode) tea.Cmd {
	flow, s, ctx := m.deps.OAuth, m.deps.Session, m.ctx
	return func() tea.Msg {
		res := flow.Wait(ctx)
		return authResultMsg{mode: mode, res: res, sess: s.Snapshot()}
	}
}

func (m Model) loadNotifications() tea.Cmd {
	st, ctx := m.deps.Store, m.ctx
	if st == nil {
		return nil
	}
	return func() tea.Msg {
		list, err := st.ListNotifications(ctx, 0)
		return notificationsLoadedMsg{list: list, err: err}
	}
}

func welcome(u *model.User) string {
	if name := u.DisplayName(); name != "" {
		return "Signed in as " + name + "."
	}
	return "Signed in."
}

// resultText renders a successful pass-through result, including any
// development links echoed by the backend.
func resultText(res session.Result) string {
	text := res.Message
	if text == "" {
		text = "Done."
	}
	if res.ResetURL != "" {
		text += " Reset link: " + res.ResetURL
	}
	if res.VerificationURL != "" {
		text += " Verification link: " + res.VerificationURL
	}
	return text
}
