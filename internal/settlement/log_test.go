package settlement

import (
	"context"
	"errors"
	"testing"
)

func TestLogDriver_SendFunds(t *testing.T) {
	d := NewLogDriver(nil)
	ctx := context.Background()

	if err := d.SendFunds(ctx, "alice", 100); err != nil {
		t.Fatalf("SendFunds() error = %v", err)
	}
	if err := d.SendFunds(ctx, "alice", 50); err != nil {
		t.Fatalf("SendFunds() error = %v", err)
	}
	if err := d.SendFunds(ctx, "bob", 7); err != nil {
		t.Fatalf("SendFunds() error = %v", err)
	}

	payouts := d.Payouts()
	if len(payouts) != 3 {
		t.Fatalf("Payouts() returned %d, want 3", len(payouts))
	}
	if payouts[0].To != "alice" || payouts[0].Amount != 100 {
		t.Errorf("Payouts()[0] = %+v, want alice/100", payouts[0])
	}
	if payouts[0].ID == payouts[1].ID {
		t.Error("payout IDs should be unique")
	}
	if got := d.TotalPaid("alice"); got != 150 {
		t.Errorf("TotalPaid(alice) = %d, want 150", got)
	}
}

func TestLogDriver_ContextCancelled(t *testing.T) {
	d := NewLogDriver(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.SendFunds(ctx, "alice", 1); !errors.Is(err, context.Canceled) {
		t.Errorf("SendFunds() error = %v, want context.Canceled", err)
	}
	if len(d.Payouts()) != 0 {
		t.Error("cancelled payout was recorded")
	}
}
