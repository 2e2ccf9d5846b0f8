// Package notify alerts operators about engine events that need a human:
// predictions sent to review, fraud flags, bans and emergency withdrawals.
// Alerts go to every registered sender (Telegram, Discord).
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, alert Alert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Severity orders alerts for channels that can render it.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// Alert is one rendered notification.
type Alert struct {
	Title    string
	Fields   []Field
	Severity Severity
}

// Field is a labelled value shown in an alert body.
type Field struct {
	Name  string
	Value string
}

// Text renders the alert body as "Name: value" lines.
func (a Alert) Text() string {
	var b strings.Builder
	for i, f := range a.Fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", f.Name, f.Value)
	}
	return b.String()
}

// DefaultEvents are forwarded when no event list is configured.
var DefaultEvents = []string{
	string(domain.EventPredictionUnderReview),
	string(domain.EventPredictionDisputed),
	string(domain.EventCreatorBanned),
	string(domain.EventExchangeEmergency),
}

// Notifier implements domain.EventSink. It forwards the configured event
// kinds to every sender; a failing sender does not stop the others.
type Notifier struct {
	senders []Sender
	events  map[domain.EventKind]bool
	logger  *slog.Logger
}

var _ domain.EventSink = (*Notifier)(nil)

// NewNotifier creates a Notifier. An empty events list selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[domain.EventKind]bool, len(events))
	for _, e := range events {
		allowed[domain.EventKind(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Name implements domain.EventSink.
func (n *Notifier) Name() string { return "notifier" }

// Handle implements domain.EventSink.
func (n *Notifier) Handle(ctx context.Context, ev domain.Event) error {
	if !n.events[ev.Kind] {
		return nil
	}
	return n.dispatch(ctx, Render(ev))
}

// NotifyAll sends an alert to all senders regardless of event filters.
func (n *Notifier) NotifyAll(ctx context.Context, alert Alert) error {
	return n.dispatch(ctx, alert)
}

func (n *Notifier) dispatch(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", alert.Title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), err)
	}
	return nil
}

// Render turns an event into an alert.
func Render(ev domain.Event) Alert {
	field := func(name, key string) Field {
		return Field{Name: name, Value: fmt.Sprint(ev.Payload[key])}
	}
	switch ev.Kind {
	case domain.EventPredictionUnderReview:
		return Alert{
			Title:    fmt.Sprintf("Prediction #%v under review", ev.Payload["id"]),
			Severity: SeverityWarning,
			Fields: []Field{
				field("Creator", "creator"),
				field("Reports", "report_count"),
				field("Participants", "participants"),
			},
		}
	case domain.EventPredictionDisputed:
		return Alert{
			Title:    fmt.Sprintf("Prediction #%v flagged as fraud", ev.Payload["id"]),
			Severity: SeverityCritical,
			Fields:   []Field{field("Creator", "creator"), field("Reason", "reason")},
		}
	case domain.EventCreatorBanned:
		return Alert{
			Title:    "Creator banned",
			Severity: SeverityWarning,
			Fields:   []Field{field("Creator", "creator"), field("Reason", "reason"), field("By", "by")},
		}
	case domain.EventExchangeEmergency:
		return Alert{
			Title:    "Emergency withdrawal from exchange",
			Severity: SeverityCritical,
			Fields:   []Field{field("To", "to"), field("Amount (wei)", "amount")},
		}
	}
	fields := make([]Field, 0, len(ev.Payload))
	for _, k := range slices.Sorted(maps.Keys(ev.Payload)) {
		fields = append(fields, field(k, k))
	}
	return Alert{Title: string(ev.Kind), Fields: fields}
}
