package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Contact details and referral codes must never be attached to spans.
var blockedAttributeKeys = map[attribute.Key]struct{}{
	"referral_code":  {},
	"code":           {},
	"email":          {},
	"phone":          {},
	"name":           {},
	"stripe_payload": {},
}

// SafeAttributes drops attributes that could carry customer data or secrets.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error whose message is cut at the first line and capped.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return errors.New(msg)
}
