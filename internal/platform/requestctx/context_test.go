package requestctx

import (
	"context"
	"testing"
)

func TestAnnotateWithoutHolderIsNoop(t *testing.T) {
	Annotate(context.Background(), "principal", "commerce")
}

func TestNotesFieldsSorted(t *testing.T) {
	ctx, notes := WithNotes(context.Background())
	Annotate(ctx, "webhook", "collect_taxes")
	Annotate(ctx, "principal", "commerce")
	Annotate(ctx, "webhook", "collect_adjustment_taxes")

	fields := notes.Fields()
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields[0].Key != "principal" || fields[1].Key != "webhook" {
		t.Fatalf("unexpected order %s, %s", fields[0].Key, fields[1].Key)
	}
	if v, _ := notes.Get("webhook"); v != "collect_adjustment_taxes" {
		t.Fatalf("expected latest value, got %q", v)
	}
}

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id")
	}
}
