package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/sortify/internal/logging"
	"github.com/nhle/sortify/internal/model"
	"github.com/nhle/sortify/internal/realtime"
	"github.com/nhle/sortify/internal/store"
)

// EventMsg is a tea.Msg sent for every realtime event that produced a
// notification.
type EventMsg struct {
	Notification model.Notification
}

// FailedMsg is a tea.Msg sent when automatic reconnects are exhausted.
type FailedMsg struct {
	Message string
}

// StatusMsg is a tea.Msg sent on every realtime status transition.
type StatusMsg struct {
	Status  realtime.Status
	Attempt int
}

// SyncState is the last mailbox sync state reported by the backend.
type SyncState struct {
	Status    string
	Message   string
	UpdatedAt time.Time
}

// failedText is shown when the channel gives up reconnecting.
const failedText = "Realtime connection lost. Run :reconnect to try again."

// storeTimeout is the maximum time allowed for persisting one notification.
const storeTimeout = 5 * time.Second

// defaultPollInterval applies when the configured interval is not positive.
const defaultPollInterval = 60 * time.Second

// Channel is the subset of *realtime.Channel the feed needs.
type Channel interface {
	Handle(msgType string, h realtime.HandlerFunc)
	OnFailed(fn func())
	OnStatusChange(fn realtime.StatusListener)
	Status() realtime.Status
	RequestSyncStatus() bool
	SetPendingSubscriptions(events []string)
}

// Feed turns realtime events into persisted notifications and Bubble Tea
// messages, and periodically asks the backend for its sync status.
type Feed struct {
	store        store.Store
	ch           Channel
	log          *slog.Logger
	pollInterval time.Duration
	topics       []string
	now          func() time.Time

	msgCh  chan tea.Msg
	stopCh chan struct{}

	mu        gosync.Mutex
	running   bool
	syncState SyncState
}

// New creates a Feed and registers its handlers on ch. Events that arrive
// before Start are still persisted and queued. topics are queued as the
// pending subscription before every connection attempt, so each new
// connection re-subscribes.
func New(s store.Store, ch Channel, topics []string, pollInterval time.Duration, log *slog.Logger) *Feed {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	f := &Feed{
		store:        s,
		ch:           ch,
		log:          logging.OrDefault(log),
		pollInterval: pollInterval,
		topics:       append([]string(nil), topics...),
		now:          time.Now,
		msgCh:        make(chan tea.Msg, 64),
		stopCh:       make(chan struct{}),
	}

	for _, kind := range []string{
		realtime.TypeEmailSynced,
		realtime.TypeCategoryUpdated,
		realtime.TypeSyncStatus,
	} {
		ch.Handle(kind, f.handleEvent)
	}
	ch.OnFailed(func() {
		f.send(FailedMsg{Message: failedText})
	})
	ch.OnStatusChange(func(s realtime.Status, attempt int) {
		if s == realtime.StatusConnecting && len(f.topics) > 0 {
			ch.SetPendingSubscriptions(f.topics)
		}
		f.send(StatusMsg{Status: s, Attempt: attempt})
	})

	return f
}

// Start launches the sync-status ticker and returns a tea.Cmd that waits
// for the next feed message.
func (f *Feed) Start() tea.Cmd {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return f.WaitForNext()
	}
	f.running = true
	f.mu.Unlock()

	go f.pollStatus()

	return f.WaitForNext()
}

// Stop halts the ticker.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}

	close(f.stopCh)
	f.running = false
}

// SyncState returns the last reported mailbox sync state.
func (f *Feed) SyncState() SyncState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncState
}

// WaitForNext returns a tea.Cmd that waits for the next feed message.
// Call it again after handling each message to keep listening.
func (f *Feed) WaitForNext() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-f.msgCh:
			return msg
		case <-f.stopCh:
			return nil
		}
	}
}

func (f *Feed) pollStatus() {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			if f.ch.Status() == realtime.StatusConnected {
				f.ch.RequestSyncStatus()
			}
		}
	}
}

func (f *Feed) handleEvent(msg realtime.Message) {
	text := Describe(msg)

	if msg.Type == realtime.TypeSyncStatus {
		var st syncStatusData
		_ = json.Unmarshal(msg.Data, &st)
		f.mu.Lock()
		f.syncState = SyncState{Status: st.Status, Message: st.Message, UpdatedAt: f.now()}
		f.mu.Unlock()
	}

	n := model.Notification{
		Kind:      msg.Type,
		Message:   text,
		Payload:   string(msg.Data),
		CreatedAt: f.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	saved, err := f.store.CreateNotification(ctx, n)
	if err != nil {
		f.log.Warn("feed.persist.failed", "type", msg.Type, "err", err)
	} else {
		n = saved
	}

	f.send(EventMsg{Notification: n})
}

// send queues msg without blocking.
func (f *Feed) send(msg tea.Msg) {
	select {
	case f.msgCh <- msg:
	default:
		f.log.Warn("feed.dropped", "msg", fmt.Sprintf("%T", msg))
	}
}

type emailSyncedData struct {
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type categoryUpdatedData struct {
	Name string `json:"name"`
}

type syncStatusData struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Describe renders a realtime event as a one-line notification.
func Describe(msg realtime.Message) string {
	switch msg.Type {
	case realtime.TypeEmailSynced:
		var d emailSyncedData
		_ = json.Unmarshal(msg.Data, &d)
		if d.Subject == "" {
			if d.Count > 0 {
				return fmt.Sprintf("Synced %d new email(s)", d.Count)
			}
			return "Emails synced"
		}
		var b strings.Builder
		b.WriteString("New email: ")
		b.WriteString(d.Subject)
		if d.From != "" {
			b.WriteString(" from ")
			b.WriteString(d.From)
		}
		if d.Category != "" {
			b.WriteString(" [")
			b.WriteString(d.Category)
			b.WriteString("]")
		}
		return b.String()

	case realtime.TypeCategoryUpdated:
		var d categoryUpdatedData
		_ = json.Unmarshal(msg.Data, &d)
		if d.Name == "" {
			return "Categories updated"
		}
		return "Category updated: " + d.Name

	case realtime.TypeSyncStatus:
		var d syncStatusData
		_ = json.Unmarshal(msg.Data, &d)
		if d.Status == "" {
			d.Status = "unknown"
		}
		if d.Message != "" {
			return fmt.Sprintf("Sync status: %s (%s)", d.Status, d.Message)
		}
		return "Sync status: " + d.Status
	}

	if msg.Message != "" {
		return msg.Message
	}
	return msg.Type
}
