// Package events names the notifications the sync core surfaces to the UI layer.
package events

// Event kinds.
const (
	NetworkChanged  = "network.changed"
	SessionChanged  = "session.changed"
	DraftSaved      = "draft.saved"
	DraftCleared    = "draft.cleared"
	DraftSynced     = "draft.synced"
	DraftSyncFailed = "draft.sync_failed"
	FeedUpdated     = "feed.updated"
	FeedDegraded    = "feed.degraded"
)

// Notifier delivers a dismissible notification to whatever UI is attached.
// Implementations must not block.
type Notifier interface {
	Notify(kind string, data any)
}

// Discard drops every notification.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(string, any) {}

// Recorder keeps notifications in memory. It is meant for tests.
type Recorder struct {
	ch chan Recorded
}

// Recorded is one captured notification.
type Recorded struct {
	Kind string
	Data any
}

// NewRecorder returns a Recorder that buffers up to size notifications.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Recorded, size)}
}

// Notify implements Notifier. Notifications beyond the buffer are dropped.
func (r *Recorder) Notify(kind string, data any) {
	select {
	case r.ch <- Recorded{Kind: kind, Data: data}:
	default:
	}
}

// Drain returns everything recorded so far.
func (r *Recorder) Drain() []Recorded {
	var out []Recorded
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Kinds returns the kinds of everything recorded so far.
func (r *Recorder) Kinds() []string {
	evs := r.Drain()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}
