package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	var flag atomic.Bool
	go func() {
		time.Sleep(5 * time.Millisecond)
		flag.Store(true)
	}()

	if !WaitFor(t, flag.Load, time.Second) {
		t.Fatal("expected condition to be met")
	}
}

func TestWaitFor_Timeout(t *testing.T) {
	start := time.Now()
	if WaitFor(t, func() bool { return false }, 20*time.Millisecond) {
		t.Fatal("expected timeout")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("returned before the timeout")
	}
}

func TestMustWaitForCalls(t *testing.T) {
	d := NewFakeDelegate()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.List(context.Background(), "west", RoleBlock)
	}()

	MustWaitForCalls(t, d, 1, time.Second)
	close(d.Gate)
	<-done
}

func TestFakeDelegate_Roles(t *testing.T) {
	d := NewFakeDelegate()
	ctx := context.Background()

	res, err := d.List(ctx, "west", "www-data")
	if err != nil || len(res.Jobs) != 2 {
		t.Fatalf("List() = %+v, %v", res, err)
	}

	res, err = d.Delete(ctx, "west", RoleEmpty, "prod", "hello", nil, nil)
	if err != nil || len(res.Jobs) != 0 || res.Key != "west/empty/prod/hello" {
		t.Fatalf("Delete(empty) = %+v, %v", res, err)
	}

	if _, err := d.Create(ctx, "west", RoleError, "prod", "hello", nil); err != ErrFake {
		t.Fatalf("Create(error) err = %v, want ErrFake", err)
	}

	res, err = d.Restart(ctx, "west", RolePID, "prod", "hello", nil, nil)
	if err != nil || res.Details["pid"] == nil {
		t.Fatalf("Restart(pid) = %+v, %v", res, err)
	}

	if got := d.Calls.Load(); got != 4 {
		t.Errorf("Calls = %d, want 4", got)
	}
}
