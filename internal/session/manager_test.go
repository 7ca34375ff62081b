package session

import (
	"bytes"
	"context"
	"log/slog"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nhle/sortify/internal/api"
	"github.com/nhle/sortify/internal/credential"
	"github.com/nhle/sortify/internal/logging"
)

// fakeBackend is an httptest server speaking the Sortify auth API.
type fakeBackend struct {
	t *testing.T

	mu         sync.Mutex
	loginToken string
	loginFail  string
	meStatus   int
	meCalls    int
	authHeader []string
}

func newFakeBackend(t *testing.T) (*fakeBackend, *api.Client) {
	t.Helper()
	fb := &fakeBackend{t: t, meStatus: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(srv.Close)
	return fb, api.NewClient(srv.URL, 5*time.Second)
}

func (fb *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)

	switch {
	case strings.HasPrefix(r.URL.Path, "/auth/reset-password/"):
		w.WriteHeader(http.StatusBadRequest)
		_ = enc.Encode(map[string]interface{}{"success": false, "message": "Invalid or expired reset token"})
		return
	case strings.HasPrefix(r.URL.Path, "/auth/verify-email/"):
		w.WriteHeader(http.StatusBadRequest)
		_ = enc.Encode(map[string]interface{}{"success": false, "message": "Invalid verification token"})
		return
	}

	switch r.URL.Path {
	case "/auth/login":
		if fb.loginFail != "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = enc.Encode(map[string]interface{}{"success": false, "message": fb.loginFail})
			return
		}
		_ = enc.Encode(map[string]interface{}{"success": true, "token": fb.loginToken})
	case "/auth/register":
		_ = enc.Encode(map[string]interface{}{
			"success": true,
			"message": "Registered",
			"user":    map[string]interface{}{"id": "u9", "email": "new@b.com"},
		})
	case "/auth/me":
		fb.meCalls++
		fb.authHeader = append(fb.authHeader, r.Header.Get("Authorization"))
		w.WriteHeader(fb.meStatus)
		if fb.meStatus != http.StatusOK {
			_ = enc.Encode(map[string]interface{}{"success": false, "message": "jwt expired"})
			return
		}
		_ = enc.Encode(map[string]interface{}{
			"success": true,
			"user":    map[string]interface{}{"id": "u1", "name": "Ada", "email": "a@b.com"},
		})
	case "/auth/send-verification":
		w.WriteHeader(http.StatusUnauthorized)
		_ = enc.Encode(map[string]interface{}{"success": false, "message": "token expired"})
	case "/auth/forgot-password":
		_ = enc.Encode(map[string]interface{}{"success": true, "message": "Email sent", "resetUrl": "http://x/reset/abc"})
	default:
		fb.t.Errorf("unexpected path %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (fb *fakeBackend) snapshot() (meCalls int, headers []string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.meCalls, append([]string(nil), fb.authHeader...)
}

func (fb *fakeBackend) set(fn func(fb *fakeBackend)) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fn(fb)
}

func TestRestore_NoToken(t *testing.T) {
	fb, client := newFakeBackend(t)
	m := NewManager(client, credential.NewMemoryStore(""), logging.Discard())

	if got := m.Snapshot().State; got != StateUnknown {
		t.Fatalf("State before restore=%v want=%v", got, StateUnknown)
	}
	if !m.Loading() {
		t.Fatal("Loading()=false before restore")
	}

	m.Restore(context.Background())

	s := m.Snapshot()
	if s.Authenticated || s.Loading || s.State != StateUnauthenticated {
		t.Fatalf("after restore: %+v", s)
	}
	if calls, _ := fb.snapshot(); calls != 0 {
		t.Fatalf("identity fetches=%d want=0", calls)
	}
}

func TestRestore_ValidToken(t *testing.T) {
	fb, client := newFakeBackend(t)
	tok := tokenExpiringIn(t, time.Hour)
	m := NewManager(client, credential.NewMemoryStore(tok), logging.Discard())

	m.Restore(context.Background())

	s := m.Snapshot()
	if !s.Authenticated || s.Token != tok || s.Loading {
		t.Fatalf("after restore: %+v", s)
	}
	if s.Identity == nil || s.Identity.Name != "Ada" {
		t.Fatalf("Identity=%+v", s.Identity)
	}
	if client.Token() != tok {
		t.Fatalf("attached credential=%q want restored token", client.Token())
	}
	calls, headers := fb.snapshot()
	if calls != 1 {
		t.Fatalf("identity fetches=%d want=1", calls)
	}
	if headers[0] != "Bearer "+tok {
		t.Fatalf("Authorization=%q", headers[0])
	}
}

func TestRestore_ExpiredTokenClearsStorage(t *testing.T) {
	fb, client := newFakeBackend(t)
	store := credential.NewMemoryStore(tokenExpiringIn(t, -time.Minute))
	m := NewManager(client, store, logging.Discard())

	m.Restore(context.Background())

	if m.IsAuthenticated() {
		t.Fatal("IsAuthenticated()=true for an expired token")
	}
	if _, err := store.Load(); err != credential.ErrNotFound {
		t.Fatalf("store.Load err=%v want ErrNotFound", err)
	}
	if calls, _ := fb.snapshot(); calls != 0 {
		t.Fatalf("identity fetches=%d want=0", calls)
	}
}

func TestRestore_GarbageTokenClearsStorage(t *testing.T) {
	_, client := newFakeBackend(t)
	store := credential.NewMemoryStore("garbage")
	m := NewManager(client, store, logging.Discard())

	m.Restore(context.Background())

	if m.IsAuthenticated() || m.Token() != "" {
		t.Fatalf("session=%+v", m.Snapshot())
	}
	if _, err := store.Load(); err != credential.ErrNotFound {
		t.Fatalf("store.Load err=%v want ErrNotFound", err)
	}
}

func TestRestore_IdentityFailureKeepsSession(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) { fb.meStatus = http.StatusUnauthorized })
	tok := tokenExpiringIn(t, time.Hour)
	m := NewManager(client, credential.NewMemoryStore(tok), logging.Discard())

	m.Restore(context.Background())

	s := m.Snapshot()
	if !s.Authenticated || s.Identity != nil {
		t.Fatalf("after restore: %+v", s)
	}
}

func TestLogin_Success(t *testing.T) {
	fb, client := newFakeBackend(t)
	tok := tokenExpiringIn(t, time.Hour)
	fb.set(func(fb *fakeBackend) { fb.loginToken = tok })
	store := credential.NewMemoryStore("")
	m := NewManager(client, store, logging.Discard())
	m.Restore(context.Background())

	var transitions [][2]string
	m.OnTokenChange(func(prev, next string) {
		transitions = append(transitions, [2]string{prev, next})
	})

	res := m.Login(context.Background(), "a@b.com", "pw")
	if !res.Success || res.Error != "" {
		t.Fatalf("Login()=%+v", res)
	}
	if res.User == nil || res.User.Email != "a@b.com" {
		t.Fatalf("Login().User=%+v", res.User)
	}
	if !m.IsAuthenticated() || m.Loading() {
		t.Fatalf("session=%+v", m.Snapshot())
	}
	if persisted, _ := store.Load(); persisted != tok {
		t.Fatalf("persisted=%q want login token", persisted)
	}
	_, headers := fb.snapshot()
	if len(headers) != 1 || headers[0] != "Bearer "+tok {
		t.Fatalf("Authorization headers=%v", headers)
	}
	if len(transitions) != 1 || transitions[0] != [2]string{"", tok} {
		t.Fatalf("transitions=%v", transitions)
	}
}

func TestLogin_RejectedLeavesStateUntouched(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) { fb.loginFail = "Invalid credentials" })
	prevTok := tokenExpiringIn(t, time.Hour)
	store := credential.NewMemoryStore(prevTok)
	m := NewManager(client, store, logging.Discard())
	m.Restore(context.Background())
	before := m.Snapshot()

	res := m.Login(context.Background(), "a@b.com", "bad")

	if res.Success || res.Error != "Invalid credentials" {
		t.Fatalf("Login()=%+v", res)
	}
	after := m.Snapshot()
	if after.Authenticated != before.Authenticated || after.Token != before.Token {
		t.Fatalf("state changed: before=%+v after=%+v", before, after)
	}
	if client.Token() != prevTok {
		t.Fatalf("attached credential=%q want previous token", client.Token())
	}
	if persisted, _ := store.Load(); persisted != prevTok {
		t.Fatalf("persisted=%q want previous token", persisted)
	}
}

func TestLogin_TransportFailure(t *testing.T) {
	client := api.NewClient("http://127.0.0.1:1", time.Second)
	m := NewManager(client, credential.NewMemoryStore(""), logging.Discard())
	m.Restore(context.Background())

	res := m.Login(context.Background(), "a@b.com", "pw")
	if res.Success || res.Error != msgNetwork {
		t.Fatalf("Login()=%+v want network failure", res)
	}
	if m.IsAuthenticated() || m.Loading() {
		t.Fatalf("session=%+v", m.Snapshot())
	}
}

func TestLogin_ExpiredTokenRejected(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) { fb.loginToken = tokenExpiringIn(t, -time.Hour) })
	m := NewManager(client, credential.NewMemoryStore(""), logging.Discard())
	m.Restore(context.Background())

	res := m.Login(context.Background(), "a@b.com", "pw")
	if res.Success || res.Error != msgInvalidToken {
		t.Fatalf("Login()=%+v", res)
	}
	if m.IsAuthenticated() || client.Token() != "" {
		t.Fatal("expired login token was adopted")
	}
}

func TestRegister_DoesNotAuthenticate(t *testing.T) {
	_, client := newFakeBackend(t)
	m := NewManager(client, credential.NewMemoryStore(""), logging.Discard())
	m.Restore(context.Background())

	res := m.Register(context.Background(), "New", "new@b.com", "pw")
	if !res.Success || res.Message != "Registered" || res.User == nil || res.User.ID != "u9" {
		t.Fatalf("Register()=%+v", res)
	}
	if m.IsAuthenticated() || m.Token() != "" {
		t.Fatal("Register authenticated the caller")
	}
}

func TestUpdateTokenFromOAuth(t *testing.T) {
	fb, client := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) { fb.meStatus = http.StatusInternalServerError })
	store := credential.NewMemoryStore("")
	m := NewManager(client, store, logging.Discard())
	m.Restore(context.Background())

	if res := m.UpdateTokenFromOAuth(context.Background(), ""); res.Success || res.Error != msgNoOAuthToken {
		t.Fatalf("UpdateTokenFromOAuth(\"\")=%+v", res)
	}

	tok := tokenExpiringIn(t, time.Hour)
	res := m.UpdateTokenFromOAuth(context.Background(), tok)
	if !res.Success {
		t.Fatalf("UpdateTokenFromOAuth()=%+v, want success despite identity failure", res)
	}
	if !m.IsAuthenticated() || client.Token() != tok {
		t.Fatalf("session=%+v attached=%q", m.Snapshot(), client.Token())
	}
	if persisted, _ := store.Load(); persisted != tok {
		t.Fatalf("persisted=%q", persisted)
	}
	if calls, _ := fb.snapshot(); calls != 1 {
		t.Fatalf("identity fetches=%d want=1", calls)
	}
}

func TestLogoutThenRestore(t *testing.T) {
	fb, client := newFakeBackend(t)
	tok := tokenExpiringIn(t, time.Hour)
	store := credential.NewMemoryStore(tok)
	m := NewManager(client, store, logging.Discard())
	m.Restore(context.Background())

	var transitions [][2]string
	m.OnTokenChange(func(prev, next string) {
		transitions = append(transitions, [2]string{prev, next})
	})

	m.Logout()
	m.Logout()

	s := m.Snapshot()
	if s.Authenticated || s.Token != "" || s.Identity != nil || s.Claims != nil {
		t.Fatalf("after logout: %+v", s)
	}
	if client.Token() != "" {
		t.Fatalf("attached credential=%q after logout", client.Token())
	}
	if len(transitions) != 1 || transitions[0] != [2]string{tok, ""} {
		t.Fatalf("transitions=%v want one present->absent", transitions)
	}

	callsBefore, _ := fb.snapshot()
	reloaded := NewManager(client, store, logging.Discard())
	reloaded.Restore(context.Background())
	if reloaded.IsAuthenticated() {
		t.Fatal("restore after logout authenticated")
	}
	if calls, _ := fb.snapshot(); calls != callsBefore {
		t.Fatalf("identity fetched after logout+restore: %d -> %d", callsBefore, calls)
	}
}

func TestSendEmailVerification_ExpiredTokenLogsOut(t *testing.T) {
	_, client := newFakeBackend(t)
	m := NewManager(client, credential.NewMemoryStore(tokenExpiringIn(t, time.Hour)), logging.Discard())
	m.Restore(context.Background())

	res := m.SendEmailVerification(context.Background())
	if res.Success || res.Error != "token expired" {
		t.Fatalf("SendEmailVerification()=%+v", res)
	}
	if m.IsAuthenticated() {
		t.Fatal("session survived a rejected token")
	}
}

func TestRefreshIdentity_RejectedTokenLogsOut(t *testing.T) {
	fb, client := newFakeBackend(t)
	m := NewManager(client, credential.NewMemoryStore(tokenExpiringIn(t, time.Hour)), logging.Discard())
	m.Restore(context.Background())
	fb.set(func(fb *fakeBackend) { fb.meStatus = http.StatusUnauthorized })

	res := m.RefreshIdentity(context.Background())
	if res.Success {
		t.Fatalf("RefreshIdentity()=%+v", res)
	}
	if m.IsAuthenticated() {
		t.Fatal("session survived a rejected token")
	}
	if res := m.RefreshIdentity(context.Background()); res.Error != msgNotAuthenticated {
		t.Fatalf("RefreshIdentity() logged out=%+v", res)
	}
}

func TestForgotPasswordPassThrough(t *testing.T) {
	_, client := newFakeBackend(t)
	m := NewManager(client, credential.NewMemoryStore(""), logging.Discard())
	m.Restore(context.Background())

	res := m.ForgotPassword(context.Background(), "a@b.com")
	if !res.Success || res.Message != "Email sent" || res.ResetURL != "http://x/reset/abc" {
		t.Fatalf("ForgotPassword()=%+v", res)
	}
	if m.IsAuthenticated() {
		t.Fatal("ForgotPassword mutated session")
	}
}

func TestTokenFlowsRejectedLeaveSessionUntouched(t *testing.T) {
	tests := []struct {
		name    string
		call    func(m *Manager) Result
		wantErr string
	}{
		{
			name:    "reset password",
			call:    func(m *Manager) Result { return m.ResetPassword(context.Background(), "stale", "newpass1") },
			wantErr: "Invalid or expired reset token",
		},
		{
			name:    "verify email",
			call:    func(m *Manager) Result { return m.VerifyEmail(context.Background(), "stale") },
			wantErr: "Invalid verification token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newFakeBackend(t)
			tok := tokenExpiringIn(t, time.Hour)
			store := credential.NewMemoryStore(tok)
			m := NewManager(client, store, logging.Discard())
			m.Restore(context.Background())
			before := m.Snapshot()

			var transitions int
			m.OnTokenChange(func(string, string) { transitions++ })

			res := tt.call(m)
			if res.Success || res.Error != tt.wantErr {
				t.Fatalf("result=%+v want error %q", res, tt.wantErr)
			}

			after := m.Snapshot()
			if !after.Authenticated || after.Token != before.Token || after.Identity != before.Identity {
				t.Fatalf("state changed: before=%+v after=%+v", before, after)
			}
			if client.Token() != tok {
				t.Fatalf("attached credential=%q want session token", client.Token())
			}
			if persisted, _ := store.Load(); persisted != tok {
				t.Fatalf("persisted=%q want session token", persisted)
			}
			if transitions != 0 {
				t.Fatalf("token listeners fired %d times", transitions)
			}
		})
	}
}

func TestLogin_FailureLogOmitsEmail(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	fb, client := newFakeBackend(t)
	fb.set(func(fb *fakeBackend) { fb.loginFail = "Invalid credentials" })
	var buf bytes.Buffer
	m := NewManager(client, credential.NewMemoryStore(""), logging.New(&buf, "debug"))
	m.Restore(context.Background())

	m.Login(context.Background(), "private.person@example.com", "bad")

	out := buf.String()
	if !strings.Contains(out, "session.login.failed") {
		t.Fatalf("failure not logged: %q", out)
	}
	if strings.Contains(out, "private.person") {
		t.Fatalf("email written to log: %q", out)
	}
}
