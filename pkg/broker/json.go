package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// JSONConfig configures the delegated HTTP provider.
type JSONConfig struct {
	AuthURL           string
	EntryURL          string
	SetAccessTokenURL string
	SetServerIDURL    string
	APIKey            string
}

// JSONProvider delegates every operation to a remote service via JSON POSTs
// carrying a static API key header.
type JSONProvider struct {
	cfg    JSONConfig
	client *http.Client
}

var _ Provider = (*JSONProvider)(nil)

// NewJSONProvider creates a delegated HTTP provider.
func NewJSONProvider(cfg JSONConfig) *JSONProvider {
	return &JSONProvider{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// post sends body as JSON and decodes the response into out (which may be
// nil). Non-2xx statuses and JSON bodies carrying a "message" field are
// errors.
func (p *JSONProvider) post(ctx context.Context, url string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Launcher-API-Key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: bad request, status code %d", url, resp.StatusCode)
	}
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("post %s: read response: %w", url, err)
	}
	var msg struct {
		Message *string `json:"message"`
	}
	if json.Unmarshal(raw.Bytes(), &msg) == nil && msg.Message != nil {
		return fmt.Errorf("%s", *msg.Message)
	}
	if out != nil {
		if err := json.Unmarshal(raw.Bytes(), out); err != nil {
			return fmt.Errorf("post %s: decode response: %w", url, err)
		}
	}
	return nil
}

func (p *JSONProvider) Auth(ctx context.Context, login, password, ip string) (uuid.UUID, error) {
	var result struct {
		UUID    *uuid.UUID `json:"uuid"`
		Message *string    `json:"message"`
	}
	err := p.post(ctx, p.cfg.AuthURL, map[string]string{
		"username": login,
		"password": password,
		"ip":       ip,
	}, &result)
	if err != nil {
		return uuid.Nil, err
	}
	if result.Message != nil {
		return uuid.Nil, fmt.Errorf("%s", *result.Message)
	}
	if result.UUID == nil {
		return uuid.Nil, fmt.Errorf("auth response carries neither uuid nor message")
	}
	return *result.UUID, nil
}

func (p *JSONProvider) Entry(ctx context.Context, id uuid.UUID) (Entry, error) {
	var e Entry
	err := p.post(ctx, p.cfg.EntryURL, map[string]uuid.UUID{"uuid": id}, &e)
	return e, err
}

func (p *JSONProvider) EntryByName(ctx context.Context, username string) (Entry, error) {
	var e Entry
	err := p.post(ctx, p.cfg.EntryURL, map[string]string{"username": username}, &e)
	return e, err
}

func (p *JSONProvider) SetAccessToken(ctx context.Context, id uuid.UUID, token string) error {
	return p.post(ctx, p.cfg.SetAccessTokenURL, map[string]any{
		"uuid":        id,
		"accessToken": token,
	}, nil)
}

func (p *JSONProvider) SetServerID(ctx context.Context, id uuid.UUID, serverID string) error {
	return p.post(ctx, p.cfg.SetServerIDURL, map[string]any{
		"uuid":     id,
		"serverId": serverID,
	}, nil)
}
