package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("call %d should be allowed while closed", i)
		}
		cb.RecordFailure()
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open circuit should reject calls")
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3}, zap.NewNop())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed after streak reset", cb.GetState())
	}
}

func TestHalfOpenProbe(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, RecoveryTimeout: 10 * time.Millisecond}, zap.NewNop())

	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("expected open after threshold")
	}

	time.Sleep(15 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe allowed after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.GetState())
	}
	if cb.Allow() {
		t.Error("only one probe should pass in half-open")
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed after successful probe", cb.GetState())
	}
}

func TestProbeFailureReopens(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 1, RecoveryTimeout: 10 * time.Millisecond}, zap.NewNop())

	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Errorf("state = %s, want open after failed probe", cb.GetState())
	}
}
