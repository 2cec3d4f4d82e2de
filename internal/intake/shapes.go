// Package intake accepts webhook deliveries, guards against duplicates and
// stale events, stores the source record and drives suggestion generation.
package intake

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hyperengineering/triage/internal/types"
)

// ErrInvalidPayload is returned for bodies that are not JSON objects or carry
// nothing usable.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// Shape is the detected payload variant of a webhook body.
type Shape string

const (
	ShapeGeneric      Shape = "generic_webhook"
	ShapeCallPlatform Shape = "call_platform_report"
	ShapeForm         Shape = "form_submission"
	ShapeEmail        Shape = "email_message"
)

// DetectShape classifies a JSON body received on the intake endpoint for kind.
func DetectShape(kind types.EventKind, body []byte) Shape {
	doc := gjson.ParseBytes(body)

	if kind != types.EventKindEmail {
		if doc.Get("message.call").Exists() || doc.Get("message.artifact").Exists() ||
			doc.Get("message.type").String() == "end-of-call-report" {
			return ShapeCallPlatform
		}
	}
	if isForm(doc) {
		return ShapeForm
	}
	if kind == types.EventKindEmail {
		return ShapeEmail
	}
	return ShapeGeneric
}

func isForm(doc gjson.Result) bool {
	for _, path := range []string{"form_id", "formId", "form.id", "fields", "submission"} {
		if doc.Get(path).Exists() {
			return true
		}
	}
	return false
}

// Extract builds an event from body according to shape. Extraction is best
// effort; it fails only when the body is not a JSON object or yields neither
// text nor a sender.
func Extract(shape Shape, body []byte) (types.Event, error) {
	if !gjson.ValidBytes(body) {
		return types.Event{}, fmt.Errorf("%w: body is not valid JSON", ErrInvalidPayload)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return types.Event{}, fmt.Errorf("%w: body is not a JSON object", ErrInvalidPayload)
	}

	var event types.Event
	switch shape {
	case ShapeCallPlatform:
		event = extractCallPlatform(doc)
	case ShapeForm:
		event = extractForm(doc)
	case ShapeEmail:
		event = extractEmail(doc)
	default:
		event = extractGenericCall(doc)
	}

	if event.Text() == "" && event.CallerIdentifier() == "" {
		return types.Event{}, fmt.Errorf("%w: no content or sender found", ErrInvalidPayload)
	}
	return event, nil
}

func extractCallPlatform(doc gjson.Result) types.Event {
	call := &types.CallEvent{
		Transcript:       firstString(doc, "message.artifact.transcript", "message.transcript"),
		Summary:          firstString(doc, "message.analysis.summary", "message.summary"),
		CallerIdentifier: firstString(doc, "message.call.customer.number", "message.customer.number"),
		CallerName:       firstString(doc, "message.call.customer.name", "message.customer.name"),
		RecordingURL:     firstString(doc, "message.artifact.recordingUrl", "message.recordingUrl", "message.artifact.recording.url"),
		DurationSeconds:  firstInt(doc, "message.durationSeconds", "message.call.duration", "message.duration"),
		Direction:        direction(firstString(doc, "message.call.type", "message.call.direction")),
	}
	return types.Event{
		Kind:       types.EventKindCall,
		Category:   firstString(doc, "message.analysis.structuredData.category", "message.category"),
		OccurredAt: firstTime(doc, "message.endedAt", "message.timestamp"),
		Call:       call,
	}
}

func extractGenericCall(doc gjson.Result) types.Event {
	call := &types.CallEvent{
		Transcript:       firstString(doc, "transcript", "call.transcript", "data.transcript", "text"),
		Summary:          firstString(doc, "summary", "call.summary", "data.summary"),
		Sentiment:        firstString(doc, "sentiment", "call.sentiment"),
		CallerIdentifier: firstString(doc, "caller_phone", "callerPhone", "from", "phone", "phone_number", "caller.phone", "caller", "customer.number"),
		CallerName:       firstString(doc, "caller_name", "callerName", "caller.name", "customer.name", "name"),
		RecordingURL:     firstString(doc, "recording_url", "recordingUrl", "call.recording_url"),
		DurationSeconds:  firstInt(doc, "duration_seconds", "durationSeconds", "duration", "call.duration"),
		Direction:        direction(firstString(doc, "direction", "call.direction")),
	}
	return types.Event{
		Kind:       types.EventKindCall,
		Category:   firstString(doc, "category"),
		ClientID:   firstString(doc, "client_id", "clientId"),
		OccurredAt: firstTime(doc, "timestamp", "occurred_at", "created_at"),
		Call:       call,
	}
}

func extractEmail(doc gjson.Result) types.Event {
	email := &types.EmailEvent{
		Subject:    firstString(doc, "subject", "email.subject"),
		Body:       firstString(doc, "body", "text", "content", "body_plain", "email.body", "message"),
		Sender:     firstString(doc, "from.email", "from.address", "sender.email", "from", "sender", "email"),
		SenderName: firstString(doc, "from.name", "sender.name", "from_name", "sender_name", "name"),
	}
	return types.Event{
		Kind:       types.EventKindEmail,
		Category:   firstString(doc, "category"),
		ClientID:   firstString(doc, "client_id", "clientId"),
		OccurredAt: firstTime(doc, "timestamp", "received_at", "date"),
		Email:      email,
	}
}

func extractForm(doc gjson.Result) types.Event {
	fields := doc.Get("fields")
	if !fields.Exists() {
		fields = doc.Get("submission")
	}
	values := formValues(fields)

	name := firstString(doc, "name", "full_name")
	if name == "" {
		name = lookup(values, "name", "full_name", "fullname")
	}
	if name == "" {
		name = strings.TrimSpace(lookup(values, "first_name", "firstname") + " " + lookup(values, "last_name", "lastname"))
	}

	body := firstString(doc, "message", "body")
	if body == "" {
		body = lookup(values, "message", "comments", "question", "details")
	}
	if body == "" {
		body = flatten(values)
	}

	subject := firstString(doc, "form_name", "formName", "form.name", "subject")
	if subject == "" {
		subject = "Form submission"
	}

	sender := firstString(doc, "email")
	if sender == "" {
		sender = lookup(values, "email", "email_address")
	}
	if sender == "" {
		sender = lookup(values, "phone", "phone_number")
	}

	return types.Event{
		Kind:       types.EventKindEmail,
		Category:   firstString(doc, "category"),
		ClientID:   firstString(doc, "client_id", "clientId"),
		OccurredAt: firstTime(doc, "submitted_at", "timestamp", "created_at"),
		Email: &types.EmailEvent{
			Subject:    subject,
			Body:       body,
			Sender:     sender,
			SenderName: name,
		},
	}
}

// formValues flattens form fields given either as an object or as an array
// of {label|name|key, value} entries. Keys are lower-cased with spaces as
// underscores.
func formValues(fields gjson.Result) map[string]string {
	values := make(map[string]string)
	switch {
	case fields.IsObject():
		fields.ForEach(func(k, v gjson.Result) bool {
			if s := scalar(v); s != "" {
				values[fieldKey(k.String())] = s
			}
			return true
		})
	case fields.IsArray():
		fields.ForEach(func(_, entry gjson.Result) bool {
			key := firstString(entry, "label", "name", "key", "id")
			if s := scalar(entry.Get("value")); key != "" && s != "" {
				values[fieldKey(key)] = s
			}
			return true
		})
	}
	return values
}

func fieldKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), " ", "_")
}

func lookup(values map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := values[k]; v != "" {
			return v
		}
	}
	return ""
}

func flatten(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+values[k])
	}
	return strings.Join(lines, "\n")
}

// firstString returns the first path holding a string or number.
func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := scalar(doc.Get(p)); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.String, gjson.Number:
		return strings.TrimSpace(v.String())
	}
	return ""
}

func firstInt(doc gjson.Result, paths ...string) int {
	for _, p := range paths {
		v := doc.Get(p)
		if v.Type == gjson.Number {
			return int(v.Float())
		}
		if v.Type == gjson.String {
			if n, err := strconv.ParseFloat(v.String(), 64); err == nil {
				return int(n)
			}
		}
	}
	return 0
}

func firstTime(doc gjson.Result, paths ...string) time.Time {
	for _, p := range paths {
		if t, ok := ParseTimestamp(scalar(doc.Get(p))); ok {
			return t
		}
	}
	return time.Time{}
}

// ParseTimestamp accepts RFC 3339 or unix seconds or milliseconds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), true
	}
	return time.Unix(n, 0).UTC(), true
}

func direction(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "inbound"):
		return "inbound"
	case strings.Contains(lower, "outbound"):
		return "outbound"
	}
	return lower
}
