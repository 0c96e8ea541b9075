package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/team-ns/launcher/pkg/api"
	"github.com/team-ns/launcher/pkg/launcher/client"
)

// fakeServer answers session frames with a scripted handler.
type fakeServer struct {
	t      *testing.T
	srv    *httptest.Server
	handle func(conn *websocket.Conn, req api.ClientRequest)
}

func newFakeServer(t *testing.T, handle func(conn *websocket.Conn, req api.ClientRequest)) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, handle: handle}
	up := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, buf, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req api.ClientRequest
			if err := json.Unmarshal(buf, &req); err != nil {
				continue
			}
			fs.handle(conn, req)
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) dial(t *testing.T) *client.Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(fs.srv.URL, "http")
	c, err := client.Dial(context.Background(), url, "1.0.0", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, conn *websocket.Conn, resp api.ServerResponse) {
	t.Helper()
	buf, err := json.Marshal(resp)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, buf))
}

func TestCorrelation(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, req api.ClientRequest) {
		resp, err := api.NewResponse(&req.ID, api.MessageEmpty, nil)
		require.NoError(t, err)
		send(t, conn, resp)
	})
	c := fs.dial(t)

	require.NoError(t, c.Connected(context.Background(), api.ClientInfo{OsType: api.LinuxX64}))
}

func TestErrorResponsesBecomeErrors(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, req api.ClientRequest) {
		resp, err := api.NewResponse(&req.ID, api.MessageError, api.ErrorReply{Message: "nope"})
		require.NoError(t, err)
		send(t, conn, resp)
	})
	c := fs.dial(t)

	err := c.Connected(context.Background(), api.ClientInfo{OsType: api.LinuxX64})
	require.ErrorContains(t, err, "nope")
}

func TestPassthrough(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, req api.ClientRequest) {
		// First an unsolicited notification, then the answer.
		notif, err := api.NewResponse(nil, api.MessageRuntime, "hello from the server")
		require.NoError(t, err)
		send(t, conn, notif)

		resp, err := api.NewResponse(&req.ID, api.MessageEmpty, nil)
		require.NoError(t, err)
		send(t, conn, resp)
	})
	c := fs.dial(t)

	require.NoError(t, c.Connected(context.Background(), api.ClientInfo{OsType: api.LinuxX64}))
	select {
	case msg := <-c.Passthrough:
		require.Equal(t, "hello from the server", msg)
	case <-time.After(5 * time.Second):
		t.Fatalf("passthrough message not delivered")
	}
}

func TestDisconnectDrainsPending(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, req api.ClientRequest) {
		conn.Close()
	})
	c := fs.dial(t)

	err := c.Connected(context.Background(), api.ClientInfo{OsType: api.LinuxX64})
	require.Error(t, err)

	// Requests after the disconnect fail immediately.
	err = c.Connected(context.Background(), api.ClientInfo{OsType: api.LinuxX64})
	require.ErrorIs(t, err, client.ErrClosed)
}

func TestRequestContextCancellation(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, req api.ClientRequest) {
		// Never answer.
	})
	c := fs.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Connected(ctx, api.ClientInfo{OsType: api.LinuxX64})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
