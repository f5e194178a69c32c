package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type recordingSleeper struct {
	calls []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return ctx.Err()
}

func TestDo_SucceedsOnLastAttempt(t *testing.T) {
	var rs recordingSleeper
	transient := errors.New("transient")

	got, attempts, err := Do(context.Background(), InitialLoad, Config{Sleep: rs.sleep},
		func(_ context.Context, attempt int) (string, error) {
			if attempt < 4 {
				return "", transient
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" || attempts != 4 {
		t.Fatalf("got %q after %d attempts", got, attempts)
	}
	if len(rs.calls) != 3 {
		t.Fatalf("expected 3 waits, got %d", len(rs.calls))
	}
	for _, d := range rs.calls {
		if d != 2500*time.Millisecond {
			t.Fatalf("expected fixed 2.5s delay, got %s", d)
		}
	}
}

func TestDo_ExhaustedReturnsLastError(t *testing.T) {
	var rs recordingSleeper
	var observed []int
	var finalSeen bool

	_, attempts, err := Do(context.Background(), InitialLoad, Config{
		Sleep: rs.sleep,
		Observe: func(attempt int, _ error, final bool) {
			observed = append(observed, attempt)
			finalSeen = final
		},
	}, func(_ context.Context, attempt int) (int, error) {
		return 0, fmt.Errorf("attempt %d", attempt)
	})
	if err == nil || err.Error() != "attempt 4" {
		t.Fatalf("expected last attempt's error, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("attempts: got %d", attempts)
	}
	if len(observed) != 4 || !finalSeen {
		t.Fatalf("observer: %v final=%v", observed, finalSeen)
	}
	if len(rs.calls) != 3 {
		t.Fatalf("no wait expected after the final attempt, got %d waits", len(rs.calls))
	}
}

func TestDo_OnceNeverWaits(t *testing.T) {
	var rs recordingSleeper
	calls := 0
	_, attempts, err := Do(context.Background(), Once, Config{Sleep: rs.sleep}, func(context.Context, int) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("boom")
	})
	if err == nil || calls != 1 || attempts != 1 || len(rs.calls) != 0 {
		t.Fatalf("err=%v calls=%d attempts=%d waits=%d", err, calls, attempts, len(rs.calls))
	}
}

func TestDo_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _, err := Do(ctx, Policy{Attempts: 4, Delay: time.Hour}, Config{}, func(context.Context, int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
}

func TestPolicy_ZeroValueMeansOneAttempt(t *testing.T) {
	calls := 0
	_, _, _ = Do(context.Background(), Policy{}, Config{}, func(context.Context, int) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
}
