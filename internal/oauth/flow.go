// Package oauth runs the browser OAuth round trip for mailbox providers
// through a loopback redirect listener.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	gosync "sync"
	"time"

	"github.com/nhle/sortify/internal/logging"
	"github.com/nhle/sortify/internal/session"
)

// CallbackPath is the loopback route the backend redirects to.
const CallbackPath = "/auth/callback"

const shutdownTimeout = 2 * time.Second

// DefaultTimeout bounds how long Wait holds the listener open for a
// browser round trip.
const DefaultTimeout = 5 * time.Minute

// Result texts for a round trip that ended without a callback.
const (
	MsgCancelled = "Browser sign-in was cancelled."
	MsgTimedOut  = "Browser sign-in timed out."
)

// ErrNotStarted is returned by Wait when Begin has not been called.
var ErrNotStarted = errors.New("oauth: flow not started")

// URLSource returns the provider authorization URL for a redirect target.
// *api.Client implements it.
type URLSource interface {
	OAuthURL(ctx context.Context, provider, redirect string) (string, error)
}

// TokenAdopter accepts the token delivered to the callback.
// *session.Manager implements it.
type TokenAdopter interface {
	UpdateTokenFromOAuth(ctx context.Context, token string) session.Result
}

type callback struct {
	token string
	err   string
}

// round is one Begin..Wait cycle. done is closed when it is cancelled.
type round struct {
	srv     *http.Server
	results chan callback
	done    chan struct{}
	once    gosync.Once
}

func (r *round) stop() {
	r.once.Do(func() {
		close(r.done)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = r.srv.Shutdown(ctx)
	})
}

// Flow drives one OAuth round trip at a time.
type Flow struct {
	urls    URLSource
	adopter TokenAdopter
	addr    string
	timeout time.Duration
	log     *slog.Logger

	mu  gosync.Mutex
	cur *round
}

// NewFlow creates a Flow that listens on addr (host:port) for callbacks.
// A timeout <= 0 selects DefaultTimeout.
func NewFlow(urls URLSource, adopter TokenAdopter, addr string, timeout time.Duration, log *slog.Logger) *Flow {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Flow{
		urls:    urls,
		adopter: adopter,
		addr:    addr,
		timeout: timeout,
		log:     logging.OrDefault(log),
	}
}

// Begin starts the callback listener and returns the authorization URL
// the user must open. A flow already in progress is cancelled.
func (f *Flow) Begin(ctx context.Context, provider string) (string, error) {
	f.Cancel()

	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return "", fmt.Errorf("listening on %s: %w", f.addr, err)
	}
	redirect := "http://" + ln.Addr().String() + CallbackPath

	authURL, err := f.urls.OAuthURL(ctx, provider, redirect)
	if err != nil {
		ln.Close()
		return "", err
	}

	results := make(chan callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cb := callback{token: q.Get("token"), err: q.Get("error")}
		select {
		case results <- cb:
		default:
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if cb.err != "" {
			fmt.Fprintf(w, "<p>Sign-in failed: %s</p>", html.EscapeString(cb.err))
			return
		}
		fmt.Fprint(w, "<p>Sortify is connected. You can close this tab.</p>")
	})

	rd := &round{
		srv:     &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		results: results,
		done:    make(chan struct{}),
	}
	go func() {
		if err := rd.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.log.Warn("oauth.callback.serve_failed", "err", err)
		}
	}()

	f.mu.Lock()
	f.cur = rd
	f.mu.Unlock()

	f.log.Info("oauth.begin", "provider", provider, "redirect", redirect)
	return authURL, nil
}

// Wait blocks until the callback arrives, the flow is cancelled, the
// timeout passes or ctx is done, then hands any token to the session.
// The listener is shut down either way.
func (f *Flow) Wait(ctx context.Context) session.Result {
	f.mu.Lock()
	rd := f.cur
	f.mu.Unlock()
	if rd == nil {
		return session.Result{Error: ErrNotStarted.Error()}
	}
	defer f.finish(rd)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	select {
	case <-rd.done:
		f.log.Info("oauth.cancelled")
		return session.Result{Error: MsgCancelled}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			f.log.Info("oauth.timeout", "after", f.timeout)
			return session.Result{Error: MsgTimedOut}
		}
		return session.Result{Error: MsgCancelled}
	case cb := <-rd.results:
		if cb.err != "" {
			f.log.Warn("oauth.callback.error", "err", cb.err)
			return session.Result{Error: cb.err}
		}
		return f.adopter.UpdateTokenFromOAuth(ctx, cb.token)
	}
}

// Cancel stops a pending flow and releases its Wait. Safe to call when
// none is running.
func (f *Flow) Cancel() {
	f.mu.Lock()
	rd := f.cur
	f.cur = nil
	f.mu.Unlock()

	if rd != nil {
		rd.stop()
	}
}

// finish stops rd and forgets it unless a newer round replaced it.
func (f *Flow) finish(rd *round) {
	f.mu.Lock()
	if f.cur == rd {
		f.cur = nil
	}
	f.mu.Unlock()
	rd.stop()
}
