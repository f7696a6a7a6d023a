package ingest

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"grocery-backend/internal/runs"
)

type fakeStarter struct {
	inputs []runs.Input
	err    error
}

func (f *fakeStarter) StartRun(ctx context.Context, input runs.Input) (runs.Run, error) {
	if f.err != nil {
		return runs.Run{}, f.err
	}
	f.inputs = append(f.inputs, input)
	return runs.Run{ID: "run-1", State: runs.StatePendingValidation, Input: input}, nil
}

func TestParseNotificationDecodesKey(t *testing.T) {
	body := []byte(`{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"grocery-docs"},"object":{"key":"receipts/my+receipt%282%29.jpg"}}}]}`)

	events, err := ParseNotification(body)
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Bucket != "grocery-docs" {
		t.Fatalf("bucket = %q", ev.Bucket)
	}
	if ev.Key != "receipts/my receipt(2).jpg" {
		t.Fatalf("key = %q", ev.Key)
	}
	if !ev.IsObjectCreated() {
		t.Fatalf("expected object-created event")
	}
	if ev.FileKind() != "jpg" {
		t.Fatalf("kind = %q, want jpg", ev.FileKind())
	}
}

func TestHandleStartsRunForSupportedKinds(t *testing.T) {
	for _, kind := range []string{"pdf", "png", "jpg", "jpeg"} {
		starter := &fakeStarter{}
		h := NewHandler(starter, nil, "grocery-docs", "")

		res, err := h.Handle(context.Background(), ObjectEvent{
			Bucket:    "grocery-docs",
			Key:       "receipts/receipt." + kind,
			EventType: "ObjectCreated:Put",
		})
		if err != nil {
			t.Fatalf("Handle(%s): %v", kind, err)
		}
		if res.StatusCode != http.StatusAccepted {
			t.Fatalf("Handle(%s) status = %d, want %d", kind, res.StatusCode, http.StatusAccepted)
		}
		if res.RunID != "run-1" {
			t.Fatalf("Handle(%s) run id = %q", kind, res.RunID)
		}
		if len(starter.inputs) != 1 || starter.inputs[0].FileKind != kind {
			t.Fatalf("Handle(%s) inputs = %+v", kind, starter.inputs)
		}
	}
}

func TestHandleRejectsUnsupportedType(t *testing.T) {
	for _, key := range []string{"receipts/notes.txt", "receipts/archive.zip", "receipts/noextension", "receipts/upper.PDF."} {
		starter := &fakeStarter{}
		h := NewHandler(starter, nil, "grocery-docs", "")

		res, err := h.Handle(context.Background(), ObjectEvent{
			Bucket:    "grocery-docs",
			Key:       key,
			EventType: "ObjectCreated:Put",
		})
		if err != nil {
			t.Fatalf("Handle(%s): %v", key, err)
		}
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("Handle(%s) status = %d, want 400", key, res.StatusCode)
		}
		if res.Message != "Unsupported file type" {
			t.Fatalf("Handle(%s) message = %q", key, res.Message)
		}
		if len(starter.inputs) != 0 {
			t.Fatalf("Handle(%s) started a run for a rejected key", key)
		}
	}
}

func TestHandleUppercaseExtensionIsNormalized(t *testing.T) {
	starter := &fakeStarter{}
	h := NewHandler(starter, nil, "grocery-docs", "")

	res, err := h.Handle(context.Background(), ObjectEvent{
		Bucket:    "grocery-docs",
		Key:       "receipts/RECEIPT.JPG",
		EventType: "ObjectCreated:Put",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", res.StatusCode)
	}
	if starter.inputs[0].FileKind != "jpg" {
		t.Fatalf("kind = %q, want jpg", starter.inputs[0].FileKind)
	}
}

func TestHandleIgnoresNonCreationEvents(t *testing.T) {
	starter := &fakeStarter{}
	h := NewHandler(starter, nil, "grocery-docs", "")

	res, err := h.Handle(context.Background(), ObjectEvent{
		Bucket:    "grocery-docs",
		Key:       "receipts/receipt.jpg",
		EventType: "ObjectRemoved:Delete",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", res.StatusCode)
	}
	if len(starter.inputs) != 0 {
		t.Fatalf("deletion event started a run")
	}
}

func TestHandleSurfacesStartErrors(t *testing.T) {
	starter := &fakeStarter{err: errors.New("repo down")}
	h := NewHandler(starter, nil, "grocery-docs", "")

	if _, err := h.Handle(context.Background(), ObjectEvent{
		Bucket:    "grocery-docs",
		Key:       "receipts/receipt.jpg",
		EventType: "ObjectCreated:Put",
	}); err == nil {
		t.Fatalf("Handle should surface starter errors")
	}
}
