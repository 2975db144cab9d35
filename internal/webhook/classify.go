package webhook

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/casebridge/casesync/internal/origin"
)

// Kind is the routed interpretation of an inbound event.
type Kind int

const (
	FullSync Kind = iota
	DocumentDelete
	DocumentCreateOrUpdate
	ProbeThenDecide
)

func (k Kind) String() string {
	switch k {
	case FullSync:
		return "full-sync"
	case DocumentDelete:
		return "document-delete"
	case DocumentCreateOrUpdate:
		return "document-create-or-update"
	case ProbeThenDecide:
		return "probe-then-decide"
	}
	return "unknown"
}

// Event is a classified inbound webhook event.
type Event struct {
	Kind       Kind
	ProjectID  int64
	DocumentID int64
	EventType  string
}

// envelope is the API-Gateway proxy wrapper; the real payload rides in Body.
type envelope struct {
	Body            string `json:"body"`
	IsBase64Encoded bool   `json:"isBase64Encoded"`
}

// eventPayload covers the field spellings seen across event producers,
// including one level of "payload" nesting.
type eventPayload struct {
	BackgroundSync bool             `json:"__background_sync"`
	EventType      string           `json:"eventType"`
	Event          string           `json:"event"`
	ProjectID      *origin.NativeID `json:"projectId"`
	DocumentID     *origin.NativeID `json:"documentId"`
	Payload        *eventPayload    `json:"payload"`
}

func (p *eventPayload) flatten() *eventPayload {
	if p.Payload == nil {
		return p
	}
	inner := p.Payload.flatten()
	out := *p
	if out.EventType == "" {
		out.EventType = inner.EventType
	}
	if out.Event == "" {
		out.Event = inner.Event
	}
	if out.ProjectID == nil {
		out.ProjectID = inner.ProjectID
	}
	if out.DocumentID == nil {
		out.DocumentID = inner.DocumentID
	}
	out.BackgroundSync = out.BackgroundSync || inner.BackgroundSync
	return &out
}

// Decode unwraps the gateway envelope if present, parses the payload and
// classifies it.
func Decode(raw []byte) (*Event, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err == nil && env.Body != "" {
		inner := []byte(env.Body)
		if env.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(env.Body)
			if err != nil {
				return nil, fmt.Errorf("decode envelope body: %w", err)
			}
			inner = decoded
		}
		raw = inner
	}

	var p eventPayload
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	flat := p.flatten()

	ev := &Event{EventType: flat.EventType}
	if ev.EventType == "" {
		ev.EventType = flat.Event
	}
	if flat.ProjectID != nil {
		ev.ProjectID = flat.ProjectID.Int64()
	}
	if flat.DocumentID != nil {
		ev.DocumentID = flat.DocumentID.Int64()
	}

	ev.Kind = classify(flat.BackgroundSync, ev.EventType, ev.DocumentID)
	return ev, nil
}

// Event-type vocabulary varies by producer; substring token sets cover the
// spellings seen in the wild (Deleted, Trashed, Purged, Uploaded, Renamed,
// Moved and friends).
var (
	deleteTokens         = []string{"delete", "remove", "trash", "purge"}
	createOrUpdateTokens = []string{"create", "upload", "update", "rename", "moved"}
)

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func classify(backgroundSync bool, eventType string, documentID int64) Kind {
	et := strings.ToLower(eventType)
	switch {
	case backgroundSync:
		return FullSync
	case containsAny(et, deleteTokens):
		return DocumentDelete
	case containsAny(et, createOrUpdateTokens):
		return DocumentCreateOrUpdate
	case documentID != 0:
		// unrecognized event naming a document: ask the origin whether the
		// document still exists and act on the answer
		return ProbeThenDecide
	default:
		return FullSync
	}
}
