package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api", 5*time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization=%q want empty before login", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@b.com" || body["password"] != "pw" {
			t.Errorf("body=%v", body)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"token":   "tok",
			"user":    map[string]interface{}{"id": "u1", "email": "a@b.com"},
		})
	})

	resp, err := c.Login(context.Background(), "a@b.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token != "tok" || resp.User == nil || resp.User.ID != "u1" {
		t.Fatalf("Login()=%+v", resp)
	}
}

func TestLogin_RejectedCarriesBackendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"message": "Invalid credentials",
		})
	})
	c.SetToken("existing")

	_, err := c.Login(context.Background(), "a@b.com", "bad")
	if err == nil {
		t.Fatal("Login: expected error")
	}
	if IsAuthError(err) {
		t.Fatalf("Login 401 classified as AuthError: %v", err)
	}
	if got := Message(err, "fallback"); got != "Invalid credentials" {
		t.Fatalf("Message()=%q want=%q", got, "Invalid credentials")
	}
}

func TestSuccessFalseOn200IsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   "Email already registered",
		})
	})

	_, err := c.Register(context.Background(), "n", "a@b.com", "pw")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Register err=%v want *APIError", err)
	}
	if apiErr.Message != "Email already registered" {
		t.Fatalf("Message=%q", apiErr.Message)
	}
}

func TestMe_AttachesBearerAndHandles401(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization=%q want=%q", got, "Bearer tok")
		}
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "jwt expired"})
	})
	c.SetToken("tok")

	_, err := c.Me(context.Background())
	if !IsAuthError(err) {
		t.Fatalf("Me err=%v want AuthError", err)
	}
	if got := Message(err, ""); got != "jwt expired" {
		t.Fatalf("Message()=%q want=%q", got, "jwt expired")
	}
}

func TestClearTokenRemovesHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization=%q want empty", got)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "sent"})
	})
	c.SetToken("tok")
	c.ClearToken()

	resp, err := c.ForgotPassword(context.Background(), "a@b.com")
	if err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if resp.Message != "sent" {
		t.Fatalf("Message=%q", resp.Message)
	}
}

func TestRetriesOnRateLimit(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "verified"})
	})

	resp, err := c.VerifyEmail(context.Background(), "abc/def")
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if resp.Message != "verified" {
		t.Fatalf("Message=%q", resp.Message)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls=%d want=2", calls)
	}
}

func TestResetPasswordEscapesToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method=%s want PUT", r.Method)
		}
		if r.URL.EscapedPath() != "/api/auth/reset-password/a%2Fb" {
			t.Errorf("path=%s", r.URL.EscapedPath())
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Password reset"})
	})

	if _, err := c.ResetPassword(context.Background(), "a/b", "new"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
}

func TestOAuthURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/google" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if got := r.URL.Query().Get("redirect"); got != "http://127.0.0.1:8765/auth/callback" {
			t.Errorf("redirect=%q", got)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "authUrl": "https://accounts.example/o"})
	})

	got, err := c.OAuthURL(context.Background(), ProviderGoogle, "http://127.0.0.1:8765/auth/callback")
	if err != nil {
		t.Fatalf("OAuthURL: %v", err)
	}
	if got != "https://accounts.example/o" {
		t.Fatalf("OAuthURL()=%q", got)
	}

	if _, err := c.OAuthURL(context.Background(), "yahoo", ""); err == nil {
		t.Fatal("OAuthURL(yahoo): expected error")
	}
}

func TestMessageFallback(t *testing.T) {
	if got := Message(errors.New("dial tcp: refused"), "Network error"); got != "Network error" {
		t.Fatalf("Message()=%q", got)
	}
	if got := Message(&APIError{Status: 500}, "Login failed"); got != "Login failed" {
		t.Fatalf("Message()=%q", got)
	}
}
