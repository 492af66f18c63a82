package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, Factor: 2, Jitter: 0.2}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	out, err := Retry(context.Background(), fastRetry(5), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &Error{Kind: KindTransient, Reason: "rate limited"}
		}
		return "done", nil
	})
	if err != nil || out != "done" {
		t.Fatalf("got (%q, %v), want success", out, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryHardErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(5), func() (string, error) {
		calls++
		return "", &Error{Kind: KindHard, Reason: "bad api key", Status: 401}
	})
	if err == nil || calls != 1 {
		t.Fatalf("hard error retried: calls=%d err=%v", calls, err)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(3), func() (int, error) {
		calls++
		return 0, &Error{Kind: KindTransient, Reason: "timeout"}
	})
	if err == nil || calls != 3 {
		t.Fatalf("calls=%d err=%v, want 3 attempts then failure", calls, err)
	}
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}, func() (int, error) {
		return 0, &Error{Kind: KindTransient, Reason: "busy"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestHTTPErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{500, KindTransient},
		{503, KindTransient},
		{429, KindTransient},
		{408, KindTransient},
		{400, KindHard},
		{401, KindHard},
		{404, KindHard},
		{422, KindHard},
	}
	for _, tt := range tests {
		e := NewHTTPError(tt.status, "x", 0)
		if e.Kind != tt.kind {
			t.Errorf("status %d classified %s, want %s", tt.status, e.Kind, tt.kind)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&Error{Kind: KindTransient}) {
		t.Fatal("transient provider error not detected")
	}
	if IsTransient(&Error{Kind: KindHard}) {
		t.Fatal("hard provider error treated as transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Fatal("plain error treated as transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded not transient")
	}
}
