// Package activitymap flattens auth activity events into audit entries and
// writes them as structured log lines.
package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	auth "github.com/dbd-fish/templete-web-system"
)

const (
	defaultChannel = "auth"
	defaultActorID = "system"
)

// Entry is the audit record written for every activity event
type Entry struct {
	ActorID    string         `json:"actor_id"`
	ActorType  string         `json:"actor_type,omitempty"`
	Verb       string         `json:"verb"`
	UserID     string         `json:"user_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization
type Option func(*options)

type options struct {
	channel       string
	actorFallback string
	masked        map[string]struct{}
}

// WithChannel sets the channel recorded on every entry
func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

// WithActorFallback sets the actor id used when neither actor nor user id is known
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithMaskedKeys adds metadata keys whose values are masked before writing.
// email, identifier and subject are always masked.
func WithMaskedKeys(keys ...string) Option {
	return func(o *options) {
		for _, key := range keys {
			o.masked[key] = struct{}{}
		}
	}
}

func defaultOptions() options {
	return options{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		masked: map[string]struct{}{
			"email":      {},
			"identifier": {},
			"subject":    {},
		},
	}
}

// Normalize converts event into an Entry
func Normalize(event auth.ActivityEvent, opts ...Option) Entry {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return Entry{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.UserID),
			o.actorFallback,
		),
		ActorType:  strings.TrimSpace(event.Actor.Type),
		Verb:       string(event.EventType),
		UserID:     strings.TrimSpace(event.UserID),
		Channel:    o.channel,
		FromStatus: string(event.FromStatus),
		ToStatus:   string(event.ToStatus),
		Metadata:   maskMetadata(event.Metadata, o.masked),
		OccurredAt: occurredAt.UTC(),
	}
}

// NewZerologSink returns an ActivitySink writing one info line per event
func NewZerologSink(log zerolog.Logger, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		entry := Normalize(event, opts...)

		line := log.Info().
			Str("actor_id", entry.ActorID).
			Str("verb", entry.Verb).
			Str("channel", entry.Channel).
			Time("occurred_at", entry.OccurredAt)

		if entry.ActorType != "" {
			line = line.Str("actor_type", entry.ActorType)
		}
		if entry.UserID != "" {
			line = line.Str("user_id", entry.UserID)
		}
		if entry.FromStatus != "" || entry.ToStatus != "" {
			line = line.Str("from_status", entry.FromStatus).Str("to_status", entry.ToStatus)
		}
		if len(entry.Metadata) > 0 {
			line = line.Interface("metadata", entry.Metadata)
		}

		line.Msg("activity")
		return nil
	})
}

func maskMetadata(in map[string]any, masked map[string]struct{}) map[string]any {
	if len(in) == 0 {
		return nil
	}

	out := make(map[string]any, len(in))
	for key, value := range in {
		if _, ok := masked[key]; ok {
			if s, isString := value.(string); isString {
				out[key] = MaskIdentifier(s)
				continue
			}
		}
		out[key] = value
	}
	return out
}

// MaskIdentifier keeps the first character of the local part and the
// domain of an email, and the first character of anything else.
func MaskIdentifier(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	local, domain, isEmail := strings.Cut(value, "@")
	if !isEmail {
		return string([]rune(value)[:1]) + "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return string([]rune(local)[:1]) + "***@" + domain
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
