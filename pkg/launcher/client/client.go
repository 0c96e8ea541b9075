// Package client implements the launcher side of the persistent session
// protocol: request/response correlation over a websocket, with unsolicited
// runtime messages routed to a passthrough channel.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/team-ns/launcher/pkg/api"
)

// ErrClosed is returned for requests made (or pending) on a dead connection.
var ErrClosed = errors.New("connection closed")

// Client is a connected session. Methods are safe for concurrent use.
type Client struct {
	log  zerolog.Logger
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uuid.UUID]chan api.ServerResponse
	closed  bool
	err     error

	// Passthrough receives unsolicited runtime messages. It is buffered;
	// messages are dropped when the subscriber lags.
	Passthrough chan string
}

// Dial connects to the server session endpoint. version is reported in the
// User-Agent so the server can apply its version gate.
func Dial(ctx context.Context, url, version string, log zerolog.Logger) (*Client, error) {
	hdr := http.Header{}
	if version != "" {
		hdr.Set("User-Agent", "Launcher/"+version)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	c := &Client{
		log:         log,
		conn:        conn,
		pending:     make(map[uuid.UUID]chan api.ServerResponse),
		Passthrough: make(chan string, 16),
	}
	go c.readLoop()
	return c, nil
}

// Close tears the connection down; every pending request errors.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		var resp api.ServerResponse
		if err := json.Unmarshal(buf, &resp); err != nil {
			c.log.Error().Err(err).Msg("can't parse server response")
			continue
		}
		c.log.Debug().Str("type", string(resp.Type)).Msg("server message")

		if resp.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*resp.ID]
			if ok {
				delete(c.pending, *resp.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
			continue
		}
		if resp.Type == api.MessageRuntime {
			var msg string
			if err := resp.Decode(&msg); err != nil {
				c.log.Error().Err(err).Msg("can't parse runtime message")
				continue
			}
			select {
			case c.Passthrough <- msg:
			default:
				c.log.Warn().Msg("dropping runtime message, subscriber is lagging")
			}
		}
	}
}

// fail drains every pending request with err and marks the client dead.
func (c *Client) fail(err error) {
	c.mu.Lock()
	c.closed = true
	c.err = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.log.Debug().Err(err).Msg("session channel closed")
	for id, ch := range pending {
		resp, merr := api.NewResponse(&id, api.MessageError, api.ErrorReply{Message: err.Error()})
		if merr != nil {
			continue
		}
		ch <- resp
	}
	close(c.Passthrough)
}

// roundTrip sends a request and waits for the correlated response.
func (c *Client) roundTrip(ctx context.Context, typ api.MessageType, payload any) (api.ServerResponse, error) {
	req, err := api.NewRequest(typ, payload)
	if err != nil {
		return api.ServerResponse{}, err
	}
	buf, err := json.Marshal(req)
	if err != nil {
		return api.ServerResponse{}, fmt.Errorf("encode request: %w", err)
	}

	ch := make(chan api.ServerResponse, 1)
	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return api.ServerResponse{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.BinaryMessage, buf)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return api.ServerResponse{}, fmt.Errorf("send %s request: %w", typ, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return api.ServerResponse{}, ctx.Err()
	case resp := <-ch:
		if err := resp.Err(); err != nil {
			return api.ServerResponse{}, err
		}
		return resp, nil
	}
}

// Auth logs in with an already-sealed password and returns the identity.
func (c *Client) Auth(ctx context.Context, login, sealedPassword string) (api.AuthReply, error) {
	resp, err := c.roundTrip(ctx, api.MessageAuth, api.AuthRequest{Login: login, Password: sealedPassword})
	if err != nil {
		return api.AuthReply{}, err
	}
	var reply api.AuthReply
	if err := resp.Decode(&reply); err != nil {
		return api.AuthReply{}, err
	}
	return reply, nil
}

// Connected negotiates the client platform.
func (c *Client) Connected(ctx context.Context, info api.ClientInfo) error {
	_, err := c.roundTrip(ctx, api.MessageConnected, api.ConnectedRequest{ClientInfo: info})
	return err
}

// ProfilesInfo fetches the profiles visible to this client.
func (c *Client) ProfilesInfo(ctx context.Context) ([]api.ProfileInfo, error) {
	resp, err := c.roundTrip(ctx, api.MessageProfilesInfo, nil)
	if err != nil {
		return nil, err
	}
	var reply api.ProfilesInfoReply
	if err := resp.Decode(&reply); err != nil {
		return nil, err
	}
	return reply.ProfilesInfo, nil
}

// Profile fetches a profile resolved against the selected optionals.
func (c *Client) Profile(ctx context.Context, name string, optionals []string) (api.Profile, error) {
	resp, err := c.roundTrip(ctx, api.MessageProfile, api.ProfileRequest{Profile: name, Optionals: optionals})
	if err != nil {
		return api.Profile{}, err
	}
	var reply api.ProfileReply
	if err := resp.Decode(&reply); err != nil {
		return api.Profile{}, err
	}
	return reply.Profile, nil
}

// ProfileResources fetches the manifests of a profile.
func (c *Client) ProfileResources(ctx context.Context, name string, osType api.OsType, optionals []string) (*api.ProfileResourcesReply, error) {
	resp, err := c.roundTrip(ctx, api.MessageProfileResources, api.ProfileResourcesRequest{
		Profile:   name,
		OsType:    osType,
		Optionals: optionals,
	})
	if err != nil {
		return nil, err
	}
	var reply api.ProfileResourcesReply
	if err := resp.Decode(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// JoinServer proves the in-game join handshake to the server.
func (c *Client) JoinServer(ctx context.Context, accessToken string, selectedProfile uuid.UUID, serverID string) error {
	_, err := c.roundTrip(ctx, api.MessageJoinServer, api.JoinServerRequest{
		AccessToken:     accessToken,
		SelectedProfile: selectedProfile,
		ServerID:        serverID,
	})
	return err
}

// Custom sends a free-form message through the server extension pipeline.
func (c *Client) Custom(ctx context.Context, message string) (string, error) {
	resp, err := c.roundTrip(ctx, api.MessageCustom, message)
	if err != nil {
		return "", err
	}
	var reply string
	if err := resp.Decode(&reply); err != nil {
		return "", err
	}
	return reply, nil
}
