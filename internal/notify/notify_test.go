package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"rasd.org/internal/obs"
	"rasd.org/internal/workflow"
)

func TestLogDispatcherWritesJSONLine(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	d := NewLogDispatcher()
	d.Dispatch(context.Background(), workflow.Event{
		Kind:     workflow.EventTransitionCompleted,
		ItemType: workflow.ItemReport,
		ItemID:   "r1",
		From:     "draft",
		To:       "submitted",
		Actor:    "m2",
		At:       time.Now(),
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if entry["type"] != "notification" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["kind"] != "transition_completed" || entry["item_id"] != "r1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["from"] != "draft" || entry["to"] != "submitted" {
		t.Fatalf("transition fields missing: %v", entry)
	}
}

type countingDispatcher struct {
	mu sync.Mutex
	n  int
}

func (c *countingDispatcher) Dispatch(ctx context.Context, ev workflow.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func TestFanoutReachesAllTargets(t *testing.T) {
	a := &countingDispatcher{}
	b := &countingDispatcher{}
	f := NewFanout(a, b)

	f.Dispatch(context.Background(), workflow.Event{Kind: workflow.EventAccessGranted, ItemType: workflow.ItemReport, ItemID: "r1"})
	if a.n != 1 || b.n != 1 {
		t.Fatalf("fanout missed a target: a=%d b=%d", a.n, b.n)
	}
}
