package transcribe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quietriver/earshot/internal/resilience"
	enginemock "github.com/quietriver/earshot/pkg/engine/mock"
)

type stubConnectivity struct{ online bool }

func (s *stubConnectivity) Online() bool { return s.online }

func TestSelectorUsesPrimaryWhenFallbackDisabled(t *testing.T) {
	primary := &enginemock.Adapter{NameValue: "primary", Text: "hello"}
	offline := &enginemock.Adapter{NameValue: "offline", Text: "nope"}
	s := NewSelector(SelectorConfig{
		Primary:      primary,
		Offline:      offline,
		Connectivity: &stubConnectivity{online: false},
	})

	res := s.Transcribe(context.Background(), utt(1))
	if res.Engine != "primary" || res.Text != "hello" {
		t.Fatalf("got engine %q text %q, want primary/hello", res.Engine, res.Text)
	}
	if len(offline.Calls()) != 0 {
		t.Fatal("offline engine called with fallback disabled")
	}
}

func TestSelectorFallsBackWhenOffline(t *testing.T) {
	primary := &enginemock.Adapter{NameValue: "primary", Text: "online text"}
	offline := &enginemock.Adapter{NameValue: "offline", Text: "offline text"}
	conn := &stubConnectivity{online: true}
	s := NewSelector(SelectorConfig{
		Primary:         primary,
		Offline:         offline,
		FallbackEnabled: true,
		Connectivity:    conn,
	})

	if res := s.Transcribe(context.Background(), utt(1)); res.Engine != "primary" {
		t.Fatalf("while online: got engine %q, want primary", res.Engine)
	}

	conn.online = false
	res := s.Transcribe(context.Background(), utt(2))
	if res.Engine != "offline" || res.Text != "offline text" {
		t.Fatalf("while offline: got engine %q text %q", res.Engine, res.Text)
	}

	conn.online = true
	if res := s.Transcribe(context.Background(), utt(3)); res.Engine != "primary" {
		t.Fatalf("after recovery: got engine %q, want primary", res.Engine)
	}
}

func TestSelectorWithoutOfflineEngineStaysOnPrimary(t *testing.T) {
	primary := &enginemock.Adapter{NameValue: "primary", Text: "hello"}
	s := NewSelector(SelectorConfig{
		Primary:         primary,
		FallbackEnabled: true,
		Connectivity:    &stubConnectivity{online: false},
	})
	if res := s.Transcribe(context.Background(), utt(1)); res.Engine != "primary" {
		t.Fatalf("got engine %q, want primary", res.Engine)
	}
}

func TestSelectorErrorYieldsAnnotatedEmptyResult(t *testing.T) {
	primary := &enginemock.Adapter{NameValue: "primary", Err: errors.New("model exploded")}
	s := NewSelector(SelectorConfig{Primary: primary})

	res := s.Transcribe(context.Background(), utt(7))
	if !res.Failed() {
		t.Fatal("Failed() = false for errored recognition")
	}
	if res.Text != "" {
		t.Fatalf("Text = %q, want empty", res.Text)
	}
	if res.Seq != 7 {
		t.Fatalf("Seq = %d, want 7", res.Seq)
	}
	if !strings.Contains(res.Error, "model exploded") {
		t.Fatalf("Error = %q, want the engine error", res.Error)
	}
}

func TestSelectorTimeoutYieldsAnnotatedEmptyResult(t *testing.T) {
	primary := &enginemock.Adapter{NameValue: "primary", Text: "too late", Delay: 500 * time.Millisecond}
	s := NewSelector(SelectorConfig{
		Primary:        primary,
		RequestTimeout: 20 * time.Millisecond,
	})

	res := s.Transcribe(context.Background(), utt(1))
	if !res.Failed() || res.Text != "" {
		t.Fatalf("got Failed=%v Text=%q, want annotated empty result", res.Failed(), res.Text)
	}
	if !strings.Contains(res.Error, context.DeadlineExceeded.Error()) {
		t.Fatalf("Error = %q, want deadline exceeded", res.Error)
	}
}

func TestSelectorBreakerRoutesToOffline(t *testing.T) {
	primary := &enginemock.Adapter{NameValue: "primary", Err: errors.New("server down")}
	offline := &enginemock.Adapter{NameValue: "offline", Text: "offline text"}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "primary",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	s := NewSelector(SelectorConfig{
		Primary:         primary,
		Offline:         offline,
		FallbackEnabled: true,
		Connectivity:    &stubConnectivity{online: true},
		Breaker:         breaker,
	})

	// Two failures trip the breaker; both still yield annotated results.
	for seq := uint64(1); seq <= 2; seq++ {
		res := s.Transcribe(context.Background(), utt(seq))
		if !res.Failed() || res.Engine != "primary" {
			t.Fatalf("seq %d: got Failed=%v engine %q", seq, res.Failed(), res.Engine)
		}
	}
	if got := breaker.State(); got != resilience.StateOpen {
		t.Fatalf("breaker state: got %v, want open", got)
	}

	// With the breaker open the offline engine takes over even though
	// connectivity still reports online.
	res := s.Transcribe(context.Background(), utt(3))
	if res.Engine != "offline" || res.Text != "offline text" {
		t.Fatalf("with open breaker: got engine %q text %q", res.Engine, res.Text)
	}
	if got := len(primary.Calls()); got != 2 {
		t.Fatalf("primary calls: got %d, want 2", got)
	}
}
