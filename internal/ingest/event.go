package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ObjectEvent is one object-store notification, normalized from the bucket
// notification payload.
type ObjectEvent struct {
	Bucket    string
	Key       string
	EventType string
}

// notification mirrors the S3 event notification envelope.
type notification struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseNotification decodes a bucket notification body into object events.
// Object keys arrive URL-encoded with spaces as "+"; both are undone here.
func ParseNotification(body []byte) ([]ObjectEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	events := make([]ObjectEvent, 0, len(n.Records))
	for _, rec := range n.Records {
		key := strings.ReplaceAll(rec.S3.Object.Key, "+", " ")
		decoded, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("decode object key %q: %w", rec.S3.Object.Key, err)
		}
		events = append(events, ObjectEvent{
			Bucket:    rec.S3.Bucket.Name,
			Key:       decoded,
			EventType: rec.EventName,
		})
	}
	return events, nil
}

// IsObjectCreated reports whether the event describes a new object.
func (e ObjectEvent) IsObjectCreated() bool {
	return strings.HasPrefix(e.EventType, "ObjectCreated:")
}

// FileKind returns the lowercased extension of the object key, without the dot.
func (e ObjectEvent) FileKind() string {
	idx := strings.LastIndex(e.Key, ".")
	if idx < 0 || idx == len(e.Key)-1 {
		return ""
	}
	return strings.ToLower(e.Key[idx+1:])
}
