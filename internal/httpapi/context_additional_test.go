package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestSetBaseContext_NilRestoresBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	t.Cleanup(func() { SetBaseContext(nil) })
	//nolint:staticcheck // nil is the documented reset value
	SetBaseContext(nil)
	cancel()
	if serverBaseCtx.Err() != nil {
		t.Fatal("base context still follows the cancelled parent")
	}
}

func TestJoinContexts_BaseShutdownCancels(t *testing.T) {
	base, shutdown := context.WithCancel(context.Background())
	j, cancel := joinContexts(base, context.Background())
	defer cancel()
	shutdown()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context ignored base shutdown")
	}
}

func TestJoinContexts_RequestDoneCancels(t *testing.T) {
	req, done := context.WithCancel(context.Background())
	j, cancel := joinContexts(context.Background(), req)
	defer cancel()
	done()
	if j.Err() == nil {
		t.Fatal("joined context ignored request cancellation")
	}
}

func TestJoinContexts_CancelDetachesFromBase(t *testing.T) {
	base, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	j, cancel := joinContexts(base, context.Background())
	cancel()
	if j.Err() == nil {
		t.Fatal("joined context not cancelled by its own cancel func")
	}
	if base.Err() != nil {
		t.Fatal("cancelling the join must not touch base")
	}
}
