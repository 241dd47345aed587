package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/taskops"
)

func TestCircuitOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3})
	boom := errors.New("boom")
	op := Break[string](cb)(taskops.Fail[string](boom))

	for i := 0; i < 3; i++ {
		if _, err := op(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("call %d error = %v, want %v", i, err, boom)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	_, err := op(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2})
	boom := errors.New("boom")

	fail := Break[string](cb)(taskops.Fail[string](boom))
	ok := Break[string](cb)(taskops.Value("ok"))

	fail(context.Background())
	ok(context.Background())
	fail(context.Background())

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (success reset the count)", cb.State())
	}
}

func TestCircuitIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	op := Break[string](cb)(taskops.Fail[string](context.Canceled))

	for i := 0; i < 5; i++ {
		op(context.Background())
	}

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (cancellations are not failures)", cb.State())
	}
}

func TestCircuitHalfOpenRecovery(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	boom := errors.New("boom")

	Break[string](cb)(taskops.Fail[string](boom))(context.Background())
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	v, err := Break[string](cb)(taskops.Value("probe"))(context.Background())
	if err != nil || v != "probe" {
		t.Fatalf("probe = %q, %v", v, err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
	})
	boom := errors.New("boom")
	op := Break[string](cb)(taskops.Fail[string](boom))

	op(context.Background())
	time.Sleep(20 * time.Millisecond)
	op(context.Background()) // failed probe

	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", cb.State())
	}
}

func TestCircuitHalfOpenCallLimit(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:      1,
		ResetTimeout:     10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})
	boom := errors.New("boom")

	Break[string](cb)(taskops.Fail[string](boom))(context.Background())
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	probing := Break[string](cb)(func(ctx context.Context, _ ...any) (string, error) {
		close(started)
		<-release
		return "ok", nil
	})

	go probing(context.Background())
	<-started

	_, err := Break[string](cb)(taskops.Value("extra"))(context.Background())
	close(release)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen while probe in flight", err)
	}
}

func TestCircuitReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	Break[string](cb)(taskops.Fail[string](errors.New("boom")))(context.Background())

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after Reset", cb.State())
	}
}

func TestCircuitCustomIsFailure(t *testing.T) {
	benign := errors.New("benign")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, benign)
		},
	})
	op := Break[string](cb)(taskops.Fail[string](benign))

	for i := 0; i < 3; i++ {
		op(context.Background())
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (benign errors excluded)", cb.State())
	}
}
