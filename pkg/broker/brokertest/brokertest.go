// Package brokertest contains a conformance test used by every broker
// implementation.
package brokertest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/team-ns/launcher/pkg/broker"
)

// TestProvider exercises the Provider contract: lookups are total for
// authenticated users, token and server-id writes are visible, and unknown
// ids fail.
func TestProvider(t *testing.T, p broker.Provider) {
	ctx := context.Background()

	id, err := p.Auth(ctx, "alice", "secret", "127.0.0.1")
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("auth returned the nil uuid")
	}

	e, err := p.Entry(ctx, id)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if e.Username != "alice" || e.UUID != id {
		t.Fatalf("entry mismatch: %+v", e)
	}
	if e.AccessToken != "" || e.ServerID != "" {
		t.Fatalf("fresh entry should carry no session bindings: %+v", e)
	}

	if e, err = p.EntryByName(ctx, "alice"); err != nil {
		t.Fatalf("entry by name: %v", err)
	} else if e.UUID != id {
		t.Fatalf("entry by name mismatch: %+v", e)
	}

	if err := p.SetAccessToken(ctx, id, "tokenA"); err != nil {
		t.Fatalf("set access token: %v", err)
	}
	if err := p.SetServerID(ctx, id, "srv1"); err != nil {
		t.Fatalf("set server id: %v", err)
	}
	if e, err = p.Entry(ctx, id); err != nil {
		t.Fatalf("entry: %v", err)
	}
	if e.AccessToken != "tokenA" || e.ServerID != "srv1" {
		t.Fatalf("bindings not visible: %+v", e)
	}

	if err := p.SetAccessToken(ctx, id, "tokenB"); err != nil {
		t.Fatalf("set access token: %v", err)
	}
	if e, err = p.Entry(ctx, id); err != nil {
		t.Fatalf("entry: %v", err)
	}
	if e.AccessToken != "tokenB" {
		t.Fatalf("new token should replace the previous one: %+v", e)
	}

	if _, err := p.Entry(ctx, uuid.New()); err == nil {
		t.Fatalf("lookup of an unknown uuid should fail")
	} else if !errors.Is(err, broker.ErrNotFound) {
		t.Logf("unknown uuid error is not ErrNotFound (allowed for delegated providers): %v", err)
	}
}
