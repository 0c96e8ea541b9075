// Package session implements the server side of the persistent launcher
// protocol: one websocket per client carrying length-framed request/response
// envelopes, processed strictly in arrival order.
package session

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"

	"github.com/team-ns/launcher/pkg/api"
	"github.com/team-ns/launcher/pkg/broker"
	"github.com/team-ns/launcher/pkg/catalog"
	"github.com/team-ns/launcher/pkg/extension"
	"github.com/team-ns/launcher/pkg/hashtree"
	"github.com/team-ns/launcher/pkg/keys"
)

const (
	// pingInterval is how often the server pings an idle connection.
	pingInterval = 5 * time.Second
	// pongTimeout is how long a connection may go without any traffic.
	pongTimeout = 10 * time.Second
)

// Handler upgrades requests on the session endpoint and serves the protocol.
type Handler struct {
	Log        zerolog.Logger
	Keys       *keys.ServerKeys
	Broker     broker.Provider
	Catalog    *catalog.Service
	Hash       *hashtree.Service
	Extensions *extension.Registry

	// MinimumLauncherVersion restricts connections to launchers with at
	// least this semver. +dev versions are always allowed. Empty allows all.
	MinimumLauncherVersion string

	upgrader    websocket.Upgrader
	metricsInit sync.Once
	metricsObj  sessionMetrics
}

// Client is the per-connection state. It is owned by the connection's serve
// goroutine; only Notify may be called from elsewhere.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	ip          string
	username    string
	accessToken string
	info        *api.ClientInfo
}

var _ extension.Session = (*Client)(nil)

// IP returns the remote address the connection was accepted from.
func (c *Client) IP() string { return c.ip }

// Username returns the authenticated user, or empty.
func (c *Client) Username() string { return c.username }

// Notify pushes an unsolicited runtime message to the client.
func (c *Client) Notify(message string) error {
	resp, err := api.NewResponse(nil, api.MessageRuntime, message)
	if err != nil {
		return err
	}
	return c.write(resp)
}

func (c *Client) write(resp api.ServerResponse) error {
	buf, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, buf)
}

// ServeHTTP upgrades the request and runs the session loop until the
// connection drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkLauncherVersion(r) {
		h.m().rejectedVersion.Inc()
		http.Error(w, "unsupported launcher version", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{conn: conn, ip: realIP(r)}
	h.m().connections.Inc()
	if h.Extensions != nil {
		h.Extensions.OnConnect(client)
	}
	h.serve(r.Context(), client)
}

func (h *Handler) serve(ctx context.Context, c *Client) {
	defer c.conn.Close()

	log := h.Log.With().Str("client_ip", c.ip).Logger()

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		tk := time.NewTicker(pingInterval)
		defer tk.Stop()
		for {
			select {
			case <-done:
				return
			case <-tk.C:
				c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongTimeout))
			}
		}
	}()

	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			// Transport error: the session state dies with the connection.
			log.Debug().Err(err).Msg("session closed")
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var req api.ClientRequest
		if err := json.Unmarshal(buf, &req); err != nil {
			log.Warn().Err(err).Msg("discarding malformed request")
			continue
		}
		log.Debug().Str("type", string(req.Type)).Stringer("rid", req.ID).Msg("client request")

		resp := h.handle(ctx, c, &req)
		if err := c.write(resp); err != nil {
			log.Debug().Err(err).Msg("session write failed")
			return
		}
	}
}

// handle runs one request through the extension pipeline and the built-in
// handlers. Logical errors become Error responses; the connection stays up.
func (h *Handler) handle(ctx context.Context, c *Client, req *api.ClientRequest) api.ServerResponse {
	h.m().request(req.Type).Inc()

	if h.Extensions != nil {
		if resp, err := h.Extensions.PreHandle(req, c); err != nil {
			return h.errorResponse(req, err)
		} else if resp != nil {
			return *resp
		}
	}

	resp, err := h.dispatch(ctx, c, req)
	if err != nil {
		return h.errorResponse(req, err)
	}

	if h.Extensions != nil {
		if replaced, err := h.Extensions.PostHandle(req, &resp, c); err != nil {
			return h.errorResponse(req, err)
		} else if replaced != nil {
			return *replaced
		}
	}
	return resp
}

func (h *Handler) errorResponse(req *api.ClientRequest, err error) api.ServerResponse {
	h.m().errors.Inc()
	id := req.ID
	resp, merr := api.NewResponse(&id, api.MessageError, api.ErrorReply{Message: err.Error()})
	if merr != nil {
		// An ErrorReply always marshals; this is unreachable.
		panic(merr)
	}
	return resp
}

// checkLauncherVersion applies the minimum-version gate to the upgrade
// request's User-Agent.
func (h *Handler) checkLauncherVersion(r *http.Request) bool {
	mver := h.MinimumLauncherVersion
	if mver == "" {
		return true
	}
	if mver[0] != 'v' {
		mver = "v" + mver
	}
	if !semver.IsValid(mver) {
		h.Log.Warn().Msgf("not checking invalid minimum version %q", h.MinimumLauncherVersion)
		return true
	}

	rver, _, _ := strings.Cut(r.Header.Get("User-Agent"), " ")
	x := strings.TrimPrefix(rver, "Launcher/")
	if x == rver {
		return false // not the launcher
	}
	if strings.HasSuffix(x, "+dev") {
		return true
	}
	if len(x) > 0 && x[0] != 'v' {
		x = "v" + x
	}
	if !semver.IsValid(x) {
		return false
	}
	return semver.Compare(x, mver) >= 0
}

// realIP resolves the client address: X-Real-IP, else X-Forwarded-For, else
// the socket peer.
func realIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
