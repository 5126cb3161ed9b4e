package command_test

import (
	"errors"
	"testing"

	"flagship/internal/command"
)

type env struct {
	calls []string
}

func (e *env) record(*env) {}

func (e *env) reset() { e.calls = nil }

func ping(e *env) { e.calls = append(e.calls, "ping") }
func pong(e *env) { e.calls = append(e.calls, "pong") }

func TestEncodeResolveRoundTrip(t *testing.T) {
	reg := command.NewRegistry[*env]()
	reg.MustRegister(ping, pong)

	ref, err := reg.Encode(ping)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "ping.flagship/internal/command_test"
	if ref.String() != want {
		t.Fatalf("tag = %q, want %q", ref.String(), want)
	}
	parsed, err := command.ParseRef(ref.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != ref {
		t.Fatalf("parsed %+v, want %+v", parsed, ref)
	}
	fn, err := reg.Resolve(parsed)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	e := &env{}
	fn(e)
	if len(e.calls) != 1 || e.calls[0] != "ping" {
		t.Fatalf("unexpected calls %v", e.calls)
	}
}

func TestEncodeRejectsClosuresAndMethodValues(t *testing.T) {
	reg := command.NewRegistry[*env]()
	reg.MustRegister(ping)

	label := "closure"
	closure := func(e *env) { e.calls = append(e.calls, label) }
	if _, err := reg.Encode(closure); !errors.Is(err, command.ErrInvalidEncode) {
		t.Fatalf("closure: expected ErrInvalidEncode, got %v", err)
	}
	if _, err := reg.Register(closure); !errors.Is(err, command.ErrInvalidEncode) {
		t.Fatalf("closure register: expected ErrInvalidEncode, got %v", err)
	}
	e := &env{}
	if _, err := reg.Encode(e.record); !errors.Is(err, command.ErrInvalidEncode) {
		t.Fatalf("method value: expected ErrInvalidEncode, got %v", err)
	}
	if _, err := reg.Encode((*env).reset); !errors.Is(err, command.ErrInvalidEncode) {
		t.Fatalf("method expression: expected ErrInvalidEncode, got %v", err)
	}
	if _, err := reg.Encode(nil); !errors.Is(err, command.ErrInvalidEncode) {
		t.Fatalf("nil: expected ErrInvalidEncode, got %v", err)
	}
	// pong is a valid top-level function but was never registered
	if _, err := reg.Encode(pong); !errors.Is(err, command.ErrInvalidEncode) {
		t.Fatalf("unregistered: expected ErrInvalidEncode, got %v", err)
	}
}

func TestResolveStaleTag(t *testing.T) {
	reg := command.NewRegistry[*env]()
	reg.MustRegister(ping)

	ref, err := command.ParseRef("removedInUpdate.flagship/internal/world")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := reg.Resolve(ref); !errors.Is(err, command.ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
	if _, err := command.ParseRef("nodot"); !errors.Is(err, command.ErrResolution) {
		t.Fatalf("expected ErrResolution for malformed tag, got %v", err)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := command.NewRegistry[*env]()
	if _, err := reg.Register(ping); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.Register(ping); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if got := reg.Tags(); len(got) != 1 {
		t.Fatalf("tags = %v", got)
	}
}
