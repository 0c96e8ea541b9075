// Package joinapi implements the stateless join-proof endpoints used by
// third-party verifiers, outside the persistent session channel.
package joinapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/hlog"

	"github.com/team-ns/launcher/pkg/broker"
)

// Handler serves /join, /hasJoined, and the profile lookup endpoints.
type Handler struct {
	Broker broker.Provider

	// SkinURL and CapeURL are texture templates with {username} and {uuid}
	// placeholders.
	SkinURL string
	CapeURL string

	metricsInit sync.Once
	metricsObj  joinMetrics
}

type joinMetrics struct {
	set *metrics.Set
}

func (h *Handler) m() *joinMetrics {
	h.metricsInit.Do(func() {
		h.metricsObj.set = metrics.NewSet()
	})
	return &h.metricsObj
}

func (m *joinMetrics) request(endpoint, result string) *metrics.Counter {
	return m.set.GetOrCreateCounter(`launcher_join_requests_total{endpoint="` + endpoint + `",result="` + result + `"}`)
}

// WritePrometheus writes the endpoint metrics to w.
func (h *Handler) WritePrometheus(w io.Writer) {
	h.m().set.WritePrometheus(w)
}

// ServeHTTP routes requests to the handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/join":
		h.handleJoin(w, r)
	case r.URL.Path == "/hasJoined":
		h.handleHasJoined(w, r)
	case r.URL.Path == "/api/profiles/minecraft":
		h.handleUsernamesToProfiles(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/profiles/"):
		h.handleUUIDToProfile(w, r)
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

type errorObj struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
	Cause        string `json:"cause,omitempty"`
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		AccessToken     string    `json:"accessToken"`
		ServerID        string    `json:"serverId"`
		SelectedProfile uuid.UUID `json:"selectedProfile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.m().request("join", "reject_bad_request").Inc()
		respJSON(w, r, http.StatusBadRequest, errorObj{
			Error:        "badRequest",
			ErrorMessage: "failed to parse request body",
			Cause:        err.Error(),
		})
		return
	}

	entry, err := h.Broker.Entry(r.Context(), req.SelectedProfile)
	if err != nil {
		h.m().request("join", "reject_not_found").Inc()
		respJSON(w, r, http.StatusBadRequest, errorObj{
			Error:        "profileError",
			ErrorMessage: err.Error(),
		})
		return
	}
	if entry.AccessToken == "" || entry.AccessToken != req.AccessToken {
		h.m().request("join", "reject_token").Inc()
		respJSON(w, r, http.StatusBadRequest, errorObj{
			Error:        "accessTokenError",
			ErrorMessage: "access token does not match",
		})
		return
	}
	if err := h.Broker.SetServerID(r.Context(), req.SelectedProfile, req.ServerID); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to update server id")
		h.m().request("join", "fail_broker").Inc()
		respJSON(w, r, http.StatusInternalServerError, errorObj{
			Error:        "internalError",
			ErrorMessage: "failed to update server id",
		})
		return
	}
	h.m().request("join", "success").Inc()
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleHasJoined(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	username := r.URL.Query().Get("username")
	serverID := r.URL.Query().Get("serverId")
	if username == "" || serverID == "" {
		h.m().request("hasJoined", "reject_bad_request").Inc()
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entry, err := h.Broker.EntryByName(r.Context(), username)
	if err != nil {
		h.m().request("hasJoined", "reject_not_found").Inc()
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if entry.ServerID == "" || entry.ServerID != serverID {
		h.m().request("hasJoined", "reject_server_id").Inc()
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.m().request("hasJoined", "success").Inc()
	respJSON(w, r, http.StatusOK, h.playerProfile(entry))
}

func (h *Handler) handleUUIDToProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	id, err := uuid.Parse(strings.TrimPrefix(r.URL.Path, "/api/profiles/"))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("can't parse player uuid")
		h.m().request("profiles_uuid", "reject_bad_request").Inc()
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	entry, err := h.Broker.Entry(r.Context(), id)
	if err != nil {
		h.m().request("profiles_uuid", "reject_not_found").Inc()
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.m().request("profiles_uuid", "success").Inc()
	respJSON(w, r, http.StatusOK, h.playerProfile(entry))
}

func (h *Handler) handleUsernamesToProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var usernames []string
	if err := json.NewDecoder(r.Body).Decode(&usernames); err != nil {
		h.m().request("profiles_minecraft", "reject_bad_request").Inc()
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	type nameAndID struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	out := make([]nameAndID, 0, len(usernames))
	for _, username := range usernames {
		entry, err := h.Broker.EntryByName(r.Context(), username)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msgf("can't get player uuid for username %q", username)
			h.m().request("profiles_minecraft", "reject_not_found").Inc()
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		out = append(out, nameAndID{Name: entry.Username, ID: simpleUUID(entry.UUID)})
	}
	h.m().request("profiles_minecraft", "success").Inc()
	respJSON(w, r, http.StatusOK, out)
}

// playerProfile builds the player profile object with the base64 textures
// property.
func (h *Handler) playerProfile(e broker.Entry) map[string]any {
	textures := map[string]any{
		"timestamp":   0,
		"profileId":   simpleUUID(e.UUID),
		"profileName": e.Username,
		"textures": map[string]any{
			"SKIN": map[string]any{"url": h.textureURL(h.SkinURL, e)},
			"CAPE": map[string]any{"url": h.textureURL(h.CapeURL, e)},
		},
	}
	buf, err := json.Marshal(textures)
	if err != nil {
		panic(err)
	}
	return map[string]any{
		"id":   simpleUUID(e.UUID),
		"name": e.Username,
		"properties": []map[string]string{{
			"name":  "textures",
			"value": base64.StdEncoding.EncodeToString(buf),
		}},
	}
}

func (h *Handler) textureURL(tmpl string, e broker.Entry) string {
	return strings.NewReplacer(
		"{username}", e.Username,
		"{uuid}", e.UUID.String(),
	).Replace(tmpl)
}

// simpleUUID is the lowercase hex form without dashes.
func simpleUUID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// respJSON writes the JSON encoding of obj with the provided response
// status, compressing it with gzip if the client supports it and the result
// is smaller.
func respJSON(w http.ResponseWriter, r *http.Request, status int, obj any) {
	buf, err := json.Marshal(obj)
	if err != nil {
		panic(err)
	}
	buf = append(buf, '\n')
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	for _, e := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if t, _, _ := strings.Cut(e, ";"); strings.TrimSpace(t) == "gzip" {
			var cbuf bytes.Buffer
			gw := gzip.NewWriter(&cbuf)
			if _, err := gw.Write(buf); err != nil {
				break
			}
			if err := gw.Close(); err != nil {
				break
			}
			if cbuf.Len() < int(float64(len(buf))*0.8) {
				buf = cbuf.Bytes()
				w.Header().Set("Content-Encoding", "gzip")
			}
			break
		}
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write(buf)
	}
}
