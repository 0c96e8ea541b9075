package broker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/team-ns/launcher/pkg/broker"
)

// fakeBackend is a minimal delegated credential service.
type fakeBackend struct {
	t       *testing.T
	id      uuid.UUID
	tokens  map[uuid.UUID]string
	servers map[uuid.UUID]string
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Launcher-API-Key") != "sekrit" {
			http.Error(w, "no key", http.StatusForbidden)
			return
		}
		var req struct{ Username, Password, IP string }
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			json.NewEncoder(w).Encode(map[string]any{"message": "Wrong password"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"uuid": b.id})
	})
	mux.HandleFunc("/entry", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(broker.Entry{
			UUID:        b.id,
			Username:    "alice",
			AccessToken: b.tokens[b.id],
			ServerID:    b.servers[b.id],
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UUID        uuid.UUID `json:"uuid"`
			AccessToken string    `json:"accessToken"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		b.tokens[req.UUID] = req.AccessToken
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/server", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UUID     uuid.UUID `json:"uuid"`
			ServerID string    `json:"serverId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		b.servers[req.UUID] = req.ServerID
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestJSONProvider(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{
		t:       t,
		id:      uuid.New(),
		tokens:  map[uuid.UUID]string{},
		servers: map[uuid.UUID]string{},
	}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	p := broker.NewJSONProvider(broker.JSONConfig{
		AuthURL:           srv.URL + "/auth",
		EntryURL:          srv.URL + "/entry",
		SetAccessTokenURL: srv.URL + "/token",
		SetServerIDURL:    srv.URL + "/server",
		APIKey:            "sekrit",
	})

	id, err := p.Auth(ctx, "alice", "secret", "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if id != backend.id {
		t.Fatalf("uuid mismatch")
	}

	if _, err := p.Auth(ctx, "alice", "wrong", "127.0.0.1"); err == nil {
		t.Fatalf("message-bearing response should be an error")
	} else if err.Error() != "Wrong password" {
		t.Fatalf("broker message should be echoed, got %q", err)
	}

	if err := p.SetAccessToken(ctx, id, "tok"); err != nil {
		t.Fatal(err)
	}
	if err := p.SetServerID(ctx, id, "srv9"); err != nil {
		t.Fatal(err)
	}
	e, err := p.Entry(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if e.AccessToken != "tok" || e.ServerID != "srv9" {
		t.Fatalf("bindings not delegated: %+v", e)
	}
}

func TestJSONProviderRejectsWithoutKey(t *testing.T) {
	backend := &fakeBackend{
		id:      uuid.New(),
		tokens:  map[uuid.UUID]string{},
		servers: map[uuid.UUID]string{},
	}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	p := broker.NewJSONProvider(broker.JSONConfig{
		AuthURL: srv.URL + "/auth",
		APIKey:  "wrong",
	})
	if _, err := p.Auth(context.Background(), "alice", "secret", "127.0.0.1"); err == nil {
		t.Fatalf("non-2xx should be an error")
	}
}
