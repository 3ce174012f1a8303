package logging

import (
	"context"
	"testing"
)

func TestEnsureRunID(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatal("expected a generated run_id")
	}
	ctx2, id2 := EnsureRunID(ctx)
	if id2 != id {
		t.Fatalf("run_id changed on second call: %q != %q", id2, id)
	}
	if ctx2 != ctx {
		t.Fatal("context should be reused when the ID already exists")
	}
}

func TestRunIDFromContext(t *testing.T) {
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context returned run_id %q", got)
	}
	ctx := ContextWithRunID(context.Background(), "abc")
	if got := RunIDFromContext(ctx); got != "abc" {
		t.Fatalf("run_id = %q, want abc", got)
	}
}

func TestWithRunLoggerNilBase(t *testing.T) {
	ctx, log := WithRunLogger(context.Background(), nil)
	if log == nil {
		t.Fatal("expected a usable logger")
	}
	if RunIDFromContext(ctx) == "" {
		t.Fatal("expected a run_id on the returned context")
	}
	// Must not panic.
	log.Info(ctx, "hello", String("k", "v"), Int("n", 1), Float64("f", 1.5))
}

func TestContextLoggerRoundTrip(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatal("empty context should carry no logger")
	}
	l := Noop()
	ctx := ContextWithLogger(context.Background(), l)
	if got := LoggerFromContext(ctx); got == nil {
		t.Fatal("logger not round-tripped through context")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	for _, cfg := range []Config{
		{Level: "debug", Format: "json"},
		{Level: "warning", Format: "text"},
		{Level: "", Format: ""},
	} {
		if l := New(cfg); l == nil {
			t.Fatalf("New(%+v) returned nil", cfg)
		}
	}
}
