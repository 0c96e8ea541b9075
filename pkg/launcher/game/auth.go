package game

import (
	"context"

	"github.com/google/uuid"
)

// JoinRequest is what the in-game runtime emits when the game tries to
// contact a multiplayer server.
type JoinRequest struct {
	AccessToken     string
	SelectedProfile uuid.UUID
	ServerID        string
}

// JoinSender is the session operation the responder needs.
type JoinSender interface {
	JoinServer(ctx context.Context, accessToken string, selectedProfile uuid.UUID, serverID string) error
}

// Broker connects the in-game join callback to the session with a pair of
// single-producer/single-consumer queues. The game-side caller is blocked
// between push and pop, so at most one request is ever in flight.
type Broker struct {
	requests chan JoinRequest
	replies  chan string
}

// NewBroker creates an idle broker.
func NewBroker() *Broker {
	return &Broker{
		requests: make(chan JoinRequest),
		replies:  make(chan string),
	}
}

// RequestJoin is called from the game side. It blocks until the session
// answers; the returned string is empty on success and the authentication
// error otherwise.
func (b *Broker) RequestJoin(req JoinRequest) string {
	b.requests <- req
	return <-b.replies
}

// Respond serves join requests until ctx is canceled, translating session
// errors into reply strings.
func (b *Broker) Respond(ctx context.Context, sender JoinSender) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-b.requests:
			var reply string
			if err := sender.JoinServer(ctx, req.AccessToken, req.SelectedProfile, req.ServerID); err != nil {
				reply = err.Error()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case b.replies <- reply:
			}
		}
	}
}
