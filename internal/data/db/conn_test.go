package db

import (
	"context"
	"errors"
	"testing"
)

func TestFixedConn(t *testing.T) {
	g := sqliteGateway(t)
	handle, err := g.Handle(context.Background(), false)
	if err != nil {
		t.Fatalf("gateway handle: %v", err)
	}

	conn := Fixed(handle)
	got, err := conn.Handle(context.Background(), false)
	if err != nil || got != handle {
		t.Fatalf("Fixed handle = (%p, %v), want the wrapped handle", got, err)
	}
	if conn.ObserveError(errors.New("connection refused")) {
		t.Fatalf("Fixed must never trigger a reconnect")
	}

	if _, err := Fixed(nil).Handle(context.Background(), true); !errors.Is(err, ErrNotReady) {
		t.Fatalf("nil Fixed handle err = %v, want ErrNotReady", err)
	}
}

func TestGatewayIsConn(t *testing.T) {
	var _ Conn = sqliteGateway(t)
}
