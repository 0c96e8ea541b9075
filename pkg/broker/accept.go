package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// AcceptProvider accepts any credentials and keeps entries in memory, keyed
// by both uuid and username. Each auth mints a fresh uuid for the username.
type AcceptProvider struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Entry
	byName map[string]*Entry
}

var _ Provider = (*AcceptProvider)(nil)

// NewAcceptProvider creates an empty accept-any provider.
func NewAcceptProvider() *AcceptProvider {
	return &AcceptProvider{
		byID:   make(map[uuid.UUID]*Entry),
		byName: make(map[string]*Entry),
	}
}

func (p *AcceptProvider) Auth(_ context.Context, login, _, _ string) (uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.byName[login]; ok {
		delete(p.byID, old.UUID)
	}
	e := &Entry{
		UUID:     uuid.New(),
		Username: login,
	}
	p.byID[e.UUID] = e
	p.byName[login] = e
	return e.UUID, nil
}

func (p *AcceptProvider) Entry(_ context.Context, id uuid.UUID) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *e, nil
}

func (p *AcceptProvider) EntryByName(_ context.Context, username string) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byName[username]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, username)
	}
	return *e, nil
}

func (p *AcceptProvider) SetAccessToken(_ context.Context, id uuid.UUID, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.AccessToken = token
	return nil
}

func (p *AcceptProvider) SetServerID(_ context.Context, id uuid.UUID, serverID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.ServerID = serverID
	return nil
}
