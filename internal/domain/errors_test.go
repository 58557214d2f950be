package domain

import (
	"errors"
	"testing"
)

func TestFetchErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantFatal     bool
	}{
		{
			name:          "transient",
			err:           &FetchError{StatusCode: 503, Attempts: 4, Transient: true, Err: errors.New("unavailable")},
			wantTransient: true,
		},
		{
			name:      "non-retryable",
			err:       &FetchError{StatusCode: 401, Attempts: 1, Err: errors.New("unauthorized")},
			wantFatal: true,
		},
		{
			name: "unrelated",
			err:  errors.New("boom"),
		},
		{
			name: "nil error",
			err:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientFetch(tt.err); got != tt.wantTransient {
				t.Errorf("IsTransientFetch() = %v, want %v", got, tt.wantTransient)
			}
			if got := IsFatalFetch(tt.err); got != tt.wantFatal {
				t.Errorf("IsFatalFetch() = %v, want %v", got, tt.wantFatal)
			}
		})
	}
}

func TestFetchError_UnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := &FetchError{Transient: true, Attempts: 2, Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through errors.Is")
	}
}

func TestRenderError(t *testing.T) {
	err := &RenderError{OrderNumber: "42", Stage: "validate", Err: ErrUnitPriceInvalid}
	if !errors.Is(err, ErrRender) {
		t.Fatal("render error must match ErrRender")
	}
	if !errors.Is(err, ErrUnitPriceInvalid) {
		t.Fatal("render error must match its cause")
	}
	var target *RenderError
	if !errors.As(errors.Join(err, errors.New("extra")), &target) || target.OrderNumber != "42" {
		t.Fatal("expected errors.As to find RenderError")
	}
}

func TestIsLedgerWrite(t *testing.T) {
	if !IsLedgerWrite(errors.Join(ErrLedgerWrite, errors.New("disk full"))) {
		t.Fatal("wrapped ledger write error not detected")
	}
	if IsLedgerWrite(ErrLedgerCorrupt) {
		t.Fatal("corrupt ledger on load is not a write failure")
	}
}

func TestDeadLetter_NextAttempt(t *testing.T) {
	order := Order{OrderNumber: "7"}
	var dl DeadLetter
	first := dl.NextAttempt(order, errors.New("one"), mustTime("2026-01-01T10:00:00Z"))
	second := first.NextAttempt(order, errors.New("two"), mustTime("2026-01-01T10:05:00Z"))

	if second.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", second.Attempts)
	}
	if !second.FirstFailedAt.Equal(mustTime("2026-01-01T10:00:00Z")) {
		t.Fatalf("first failure time must be kept, got %s", second.FirstFailedAt)
	}
	if second.LastError != "two" {
		t.Fatalf("expected last error two, got %q", second.LastError)
	}
}
