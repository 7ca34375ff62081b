package realtime

import "context"

// TokenWatcher is a TokenSource that reports token transitions.
// *session.Manager implements it.
type TokenWatcher interface {
	TokenSource
	OnTokenChange(fn func(prev, next string))
}

// Bind ties the channel's lifecycle to the session token. The channel
// connects when a token appears and disconnects when it is cleared; a
// replaced token forces a fresh connection. ctx being done closes the
// channel. If a token is already held it connects immediately.
func Bind(ctx context.Context, ch *Channel, w TokenWatcher) {
	w.OnTokenChange(func(prev, next string) {
		switch {
		case prev == "" && next != "":
			go ch.Connect(ctx)
		case prev != "" && next == "":
			ch.Disconnect()
		case prev != next:
			ch.Disconnect()
			go ch.Connect(ctx)
		}
	})

	if w.Token() != "" {
		go ch.Connect(ctx)
	}

	go func() {
		<-ctx.Done()
		ch.Close()
	}()
}
