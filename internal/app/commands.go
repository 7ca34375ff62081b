package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/sortify/internal/api"
	"github.com/nhle/sortify/internal/session"
	"github.com/nhle/sortify/internal/ui/command"
	"github.com/nhle/sortify/internal/ui/login"
)

// commandResultMsg reports the outcome of a palette command. sess is set
// when the command talked to the backend, so the UI can react to a
// session cleared by an unauthorized response.
type commandResultMsg struct {
	text  string
	isErr bool
	sess  *session.Session
}

func notice(text string, isErr bool) tea.Cmd {
	return func() tea.Msg {
		return commandResultMsg{text: text, isErr: isErr}
	}
}

// executeCommand handles a command string from the command palette or a
// dashboard shortcut.
func (m *Model) executeCommand(line string) tea.Cmd {
	verb, arg := command.Parse(line)
	s, ctx := m.deps.Session, m.ctx

	switch verb {
	case "quit", "q":
		return m.quit()

	case "logout":
		st, log := m.deps.Store, m.log
		return func() tea.Msg {
			s.Logout()
			clearCache(ctx, st, log)
			return loggedOutMsg{}
		}

	case "connect":
		switch arg {
		case "cancel":
			if !m.oauthBusy {
				return notice("No browser sign-in is in progress.", true)
			}
			m.setNotice("Cancelling browser sign-in...", false)
			return m.cancelOAuth()
		case "gmail", "google":
			return m.beginOAuth(login.ModeGoogle, api.ProviderGoogle)
		case "outlook", "microsoft":
			return m.beginOAuth(login.ModeMicrosoft, api.ProviderMicrosoft)
		}
		return notice("Usage: connect gmail | connect outlook | connect cancel", true)

	case "verify":
		if arg == "" {
			return notice("Usage: verify send | verify <token>", true)
		}
		return m.backendCmd(func() session.Result {
			if arg == "send" {
				return s.SendEmailVerification(ctx)
			}
			res := s.VerifyEmail(ctx, arg)
			if res.Success {
				s.RefreshIdentity(ctx)
			}
			return res
		})

	case "refresh":
		return m.backendCmd(func() session.Result {
			return s.RefreshIdentity(ctx)
		})

	case "sync":
		if !m.deps.Channel.RequestSyncStatus() {
			return notice("Realtime stream is not connected.", true)
		}
		return notice("Sync status requested.", false)

	case "reconnect":
		ch := m.deps.Channel
		return func() tea.Msg {
			ch.Connect(ctx)
			return commandResultMsg{text: "Realtime: " + string(ch.Status())}
		}

	case "read":
		m.dashboard.MarkAllRead()
		st := m.deps.Store
		return func() tea.Msg {
			if err := st.MarkAllRead(ctx); err != nil {
				return commandResultMsg{text: "Could not mark notifications read.", isErr: true}
			}
			return commandResultMsg{}
		}

	case "clear":
		m.dashboard.SetNotifications(nil)
		st := m.deps.Store
		return func() tea.Msg {
			if err := st.DeleteAll(ctx); err != nil {
				return commandResultMsg{text: "Could not clear notifications.", isErr: true}
			}
			return commandResultMsg{text: "Notifications cleared."}
		}
	}

	return notice("Unknown command: "+line, true)
}

// backendCmd runs a session call that may end the session on a 401 and
// reports the session it leaves behind. A session found signed out has
// its cache dropped as on an explicit logout.
func (m Model) backendCmd(call func() session.Result) tea.Cmd {
	s, ctx, st, log := m.deps.Session, m.ctx, m.deps.Store, m.log
	return func() tea.Msg {
		res := call()
		sess := s.Snapshot()
		if !sess.Authenticated {
			clearCache(ctx, st, log)
		}
		return backendResult(res, sess)
	}
}

func backendResult(res session.Result, sess session.Session) commandResultMsg {
	if !res.Success {
		return commandResultMsg{text: res.Error, isErr: true, sess: &sess}
	}
	return commandResultMsg{text: resultText(res), sess: &sess}
}
