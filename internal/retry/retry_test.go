package retry

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"
)

func TestDo_ImmediateSuccess(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		val, err := Do(t.Context(), func() (int, error) {
			return 42, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != 42 {
			t.Fatalf("got %d, want 42", val)
		}
	})
}

func TestDo_RetriesOnTransientError(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		calls := 0
		val, err := Do(t.Context(), func() (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != "ok" {
			t.Fatalf("got %q, want %q", val, "ok")
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})
}

func TestDo_ContextCancellation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())

		errCh := make(chan error, 1)
		go func() {
			_, err := Do(ctx, func() (int, error) {
				return 0, errors.New("always fails")
			})
			errCh <- err
		}()

		// Let the first attempt and backoff start.
		synctest.Wait()

		cancel()
		synctest.Wait()

		err := <-errCh
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	})
}

func TestDo_ExponentialBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// Track timestamps of each call to fn.
		var timestamps []time.Duration
		start := time.Now()
		calls := 0

		val, err := Do(t.Context(), func() (int, error) {
			timestamps = append(timestamps, time.Since(start))
			calls++
			if calls < 5 {
				return 0, errors.New("fail")
			}
			return 99, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != 99 {
			t.Fatalf("got %d, want 99", val)
		}

		// Expected schedule:
		//   call 1: t=0
		//   call 2: t=50ms   (waited 50ms)
		//   call 3: t=150ms  (waited 100ms)
		//   call 4: t=350ms  (waited 200ms)
		//   call 5: t=750ms  (waited 400ms)
		want := []time.Duration{
			0,
			50 * time.Millisecond,
			150 * time.Millisecond,
			350 * time.Millisecond,
			750 * time.Millisecond,
		}
		if len(timestamps) != len(want) {
			t.Fatalf("got %d timestamps, want %d", len(timestamps), len(want))
		}
		for i, w := range want {
			if timestamps[i] != w {
				t.Errorf("call %d: got %v, want %v", i+1, timestamps[i], w)
			}
		}
	})
}

func TestDo_BackoffCapsAt2s(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var timestamps []time.Duration
		start := time.Now()
		calls := 0

		// Backoffs: 50ms, 100ms, 200ms, 400ms, 800ms, 1.6s, 2s, 2s, ...
		// Fail 9 times so the last two gaps are both at the cap.
		val, err := Do(t.Context(), func() (int, error) {
			timestamps = append(timestamps, time.Since(start))
			calls++
			if calls < 10 {
				return 0, errors.New("fail")
			}
			return 1, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != 1 {
			t.Fatalf("got %d, want 1", val)
		}

		if len(timestamps) < 3 {
			t.Fatal("not enough timestamps")
		}
		for i := len(timestamps) - 2; i < len(timestamps); i++ {
			gap := timestamps[i] - timestamps[i-1]
			if gap != 2*time.Second {
				t.Errorf("gap before call %d: got %v, want 2s", i+1, gap)
			}
		}
	})
}
