// Package notify delivers engine events to interested parties. The log
// dispatcher is the default transport; delivery is fire-and-forget and a
// failed delivery never blocks or fails the originating transition.
package notify

import (
	"context"
	"time"

	"rasd.org/internal/obs"
	"rasd.org/internal/workflow"
)

// LogDispatcher writes each event as a structured JSON line on the shared
// logger. It satisfies workflow.Dispatcher.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, ev workflow.Event) {
	entry := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"type":      "notification",
		"kind":      string(ev.Kind),
		"item_type": string(ev.ItemType),
		"item_id":   ev.ItemID,
		"actor":     ev.Actor,
		"at":        ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.From != "" {
		entry["from"] = ev.From
	}
	if ev.To != "" {
		entry["to"] = ev.To
	}
	obs.LogRequest(entry)
}

// Fanout forwards each event to every registered dispatcher in order.
type Fanout struct {
	targets []workflow.Dispatcher
}

func NewFanout(targets ...workflow.Dispatcher) *Fanout {
	return &Fanout{targets: targets}
}

func (f *Fanout) Dispatch(ctx context.Context, ev workflow.Event) {
	for _, t := range f.targets {
		t.Dispatch(ctx, ev)
	}
}

var (
	_ workflow.Dispatcher = (*LogDispatcher)(nil)
	_ workflow.Dispatcher = (*Fanout)(nil)
)
