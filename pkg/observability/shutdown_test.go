package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShutdownManager_HooksRunInOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var order []string
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		order = append(order, "catalog")
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		order = append(order, "archiver")
		return errors.New("flush failed")
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("Expected hook context to carry a deadline")
		}
		order = append(order, "otel")
		return nil
	})

	err := sm.Shutdown()
	if err == nil || err.Error() != "flush failed" {
		t.Fatalf("Expected joined hook error, got %v", err)
	}
	if len(order) != 3 || order[0] != "catalog" || order[1] != "archiver" || order[2] != "otel" {
		t.Errorf("Unexpected hook order %v", order)
	}
}

func TestShutdownManager_DrainsServers(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	srv := ts.Config
	sm := NewShutdownManager(NopLogger(), time.Second, srv, nil)

	var ranAfterDrain bool
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		_, err := http.Get(ts.URL)
		ranAfterDrain = err != nil
		return nil
	})

	if err := sm.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ranAfterDrain {
		t.Error("Expected the server to refuse requests once hooks run")
	}
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), 0)

	var ran bool
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("Expected hooks to run when the context ends")
	}
}

func TestShutdownManager_DrainTimeoutAbortsRequests(t *testing.T) {
	reqCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	entered := make(chan struct{})
	unwound := make(chan struct{})
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
		// a stream failing here still gets to refund before the process exits
		time.Sleep(20 * time.Millisecond)
		close(unwound)
	}))
	ts.Config.BaseContext = func(net.Listener) context.Context { return reqCtx }
	ts.Start()
	defer ts.Close()

	go func() {
		resp, err := http.Get(ts.URL)
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	sm := NewShutdownManager(NopLogger(), 50*time.Millisecond, ts.Config)
	sm.grace = 5 * time.Second
	var aborted bool
	sm.OnDrainTimeout(func() {
		aborted = true
		cancelRequests()
	})
	var hookRan bool
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-unwound:
		default:
			t.Error("Expected the aborted handler to finish before hooks run")
		}
		hookRan = true
		return nil
	})

	if err := sm.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !aborted {
		t.Error("Expected in-flight requests to be aborted at the drain deadline")
	}
	if !hookRan {
		t.Error("Expected hooks to run after a drain timeout")
	}
}

func TestShutdownManager_HooksRunWhenAbortDoesNotUnwind(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))
	defer func() {
		close(release)
		ts.Close()
	}()

	go func() {
		resp, err := http.Get(ts.URL)
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	sm := NewShutdownManager(NopLogger(), 50*time.Millisecond, ts.Config)
	sm.grace = 50 * time.Millisecond
	var hookRan bool
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		hookRan = true
		return nil
	})

	err := sm.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected the failed drain to be reported, got %v", err)
	}
	if !hookRan {
		t.Error("Expected hooks to run even when servers never drain")
	}
}
