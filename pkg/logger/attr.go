// Package logger builds slog loggers with per-environment defaults and
// context extraction, plus attribute helpers that keep key names consistent
// across the billing service.
package logger

import (
	"log/slog"
	"time"
	"unicode"
)

// Error records err under "error". Nil errors produce an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

// OrganizationID records the tenant identifier. Accepts uuid.UUID or string.
func OrganizationID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("organization_id", id)
}

func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

func SubscriptionID(id string) slog.Attr {
	return slog.String("provider_subscription_id", id)
}

func Phase(phase int) slog.Attr {
	return slog.Int("discount_phase", phase)
}

func TaskID(id any) slog.Attr {
	return slog.Any("task_id", id)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

const redactedPreviewLen = 64

// Redacted logs a short preview of an untrusted payload under "payload".
// Letters and digits are masked so secrets and personal data never reach the
// log, while punctuation keeps the shape of the document visible.
func Redacted(payload []byte) slog.Attr {
	n := min(len(payload), redactedPreviewLen)
	out := make([]rune, 0, n)
	for _, r := range string(payload[:n]) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			r = '*'
		}
		out = append(out, r)
	}
	return slog.Group("payload",
		slog.Int("size", len(payload)),
		slog.String("preview", string(out)),
	)
}
