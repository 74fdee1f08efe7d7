// Package natsfeed receives listing change events from a NATS subject.
package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/starford/bartermate/internal/models"
	"github.com/starford/bartermate/internal/remote"
)

const (
	connectWait   = 5 * time.Second
	reconnectWait = 2 * time.Second

	// DefaultSubject carries changes to the listings table.
	DefaultSubject = "bartermate.listings.changes"
)

// Connect dials NATS with reconnects enabled. Disconnects are logged;
// the subscription survives them.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(connectWait),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("natsfeed: disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("natsfeed: reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsfeed: connect %s: %w", url, err)
	}
	return nc, nil
}

// Feed subscribes to change events on one subject.
type Feed struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

var _ remote.ChangeFeed = (*Feed)(nil)

// New returns a feed on subject, or DefaultSubject when empty.
func New(conn *nats.Conn, subject string, logger *slog.Logger) *Feed {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Feed{conn: conn, subject: subject, logger: logger}
}

// Subscribe starts delivering listing inserts. Other event types are ignored.
func (f *Feed) Subscribe(ctx context.Context) (*remote.Subscription, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := f.conn.ChanSubscribe(f.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("natsfeed: subscribe %s: %w", f.subject, err)
	}

	feedCtx, cancel := context.WithCancel(ctx)
	out := make(chan models.Listing, 64)

	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()

		for {
			select {
			case <-feedCtx.Done():
				return
			case msg := <-msgs:
				l, ok, err := DecodeEvent(msg.Data)
				if err != nil {
					f.logger.Warn("natsfeed: skip malformed event", slog.String("error", err.Error()))
					continue
				}
				if !ok {
					continue
				}
				select {
				case out <- l:
				case <-feedCtx.Done():
					return
				}
			}
		}
	}()

	f.logger.Info("natsfeed: subscribed", slog.String("subject", f.subject))
	return remote.NewSubscription(out, cancel), nil
}

type changeEvent struct {
	Type   string          `json:"type"`
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

type listingRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Category       string    `json:"category"`
	IsFree         bool      `json:"is_free"`
	WantedCategory string    `json:"wanted_category"`
	WantedDetails  string    `json:"wanted_details"`
	Latitude       *float64  `json:"latitude"`
	Longitude      *float64  `json:"longitude"`
	ImageURL       string    `json:"image_url"`
	CreatedAt      time.Time `json:"created_at"`
}

// DecodeEvent parses a change event. ok is false for events that are not
// listing inserts. Records arrive without an owner summary.
func DecodeEvent(data []byte) (l models.Listing, ok bool, err error) {
	var ev changeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Listing{}, false, fmt.Errorf("decode event: %w", err)
	}
	if !strings.EqualFold(ev.Type, "INSERT") || (ev.Table != "" && ev.Table != "listings") {
		return models.Listing{}, false, nil
	}

	var rec listingRecord
	if err := json.Unmarshal(ev.Record, &rec); err != nil {
		return models.Listing{}, false, fmt.Errorf("decode record: %w", err)
	}
	l = models.Listing{
		ID:             rec.ID,
		UserID:         rec.UserID,
		Title:          rec.Title,
		Description:    rec.Description,
		Category:       models.Category(rec.Category),
		IsFree:         rec.IsFree,
		WantedCategory: models.Category(rec.WantedCategory),
		WantedDetails:  rec.WantedDetails,
		ImageURL:       rec.ImageURL,
		CreatedAt:      rec.CreatedAt,
	}
	if rec.Latitude != nil && rec.Longitude != nil {
		l.Location = &models.Coordinate{Latitude: *rec.Latitude, Longitude: *rec.Longitude}
	}
	if err := l.Validate(); err != nil {
		return models.Listing{}, false, fmt.Errorf("invalid record: %w", err)
	}
	return l, true, nil
}
