package session

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/team-ns/launcher/pkg/api"
)

func (h *Handler) dispatch(ctx context.Context, c *Client, req *api.ClientRequest) (api.ServerResponse, error) {
	id := req.ID
	switch req.Type {
	case api.MessageAuth:
		return h.handleAuth(ctx, c, req)
	case api.MessageConnected:
		return h.handleConnected(c, req)
	case api.MessageProfilesInfo:
		return h.handleProfilesInfo(c, req)
	case api.MessageProfile:
		return h.handleProfile(c, req)
	case api.MessageProfileResources:
		return h.handleProfileResources(c, req)
	case api.MessageJoinServer:
		return h.handleJoinServer(ctx, c, req)
	case api.MessageCustom:
		return h.handleCustom(c, req)
	default:
		return api.ServerResponse{ID: &id}, fmt.Errorf("unknown message type %q", req.Type)
	}
}

func (h *Handler) handleAuth(ctx context.Context, c *Client, req *api.ClientRequest) (api.ServerResponse, error) {
	var msg api.AuthRequest
	if err := req.Decode(&msg); err != nil {
		return api.ServerResponse{}, err
	}

	password, err := h.Keys.Decrypt(msg.Password)
	if err != nil {
		return api.ServerResponse{}, err
	}

	id, err := h.Broker.Auth(ctx, msg.Login, password, c.ip)
	if err != nil {
		return api.ServerResponse{}, err
	}

	token, err := newAccessToken()
	if err != nil {
		return api.ServerResponse{}, err
	}
	if err := h.Broker.SetAccessToken(ctx, id, token); err != nil {
		return api.ServerResponse{}, err
	}
	// A fresh login invalidates any server id joined under an older token.
	if err := h.Broker.SetServerID(ctx, id, ""); err != nil {
		return api.ServerResponse{}, err
	}

	c.username = msg.Login
	c.accessToken = token
	return api.NewResponse(&req.ID, api.MessageAuth, api.AuthReply{
		UUID:        id.String(),
		AccessToken: token,
	})
}

func (h *Handler) handleConnected(c *Client, req *api.ClientRequest) (api.ServerResponse, error) {
	var msg api.ConnectedRequest
	if err := req.Decode(&msg); err != nil {
		return api.ServerResponse{}, err
	}
	if !msg.ClientInfo.OsType.Valid() {
		return api.ServerResponse{}, fmt.Errorf("unknown os type %q", msg.ClientInfo.OsType)
	}
	info := msg.ClientInfo
	c.info = &info
	return api.NewResponse(&req.ID, api.MessageEmpty, nil)
}

func (h *Handler) handleProfilesInfo(c *Client, req *api.ClientRequest) (api.ServerResponse, error) {
	info, err := c.clientInfo()
	if err != nil {
		return api.ServerResponse{}, err
	}
	return api.NewResponse(&req.ID, api.MessageProfilesInfo, api.ProfilesInfoReply{
		ProfilesInfo: h.Catalog.List(info),
	})
}

func (h *Handler) handleProfile(c *Client, req *api.ClientRequest) (api.ServerResponse, error) {
	var msg api.ProfileRequest
	if err := req.Decode(&msg); err != nil {
		return api.ServerResponse{}, err
	}
	info, err := c.clientInfo()
	if err != nil {
		return api.ServerResponse{}, err
	}

	data, err := h.Catalog.Get(msg.Profile)
	if err != nil {
		return api.ServerResponse{}, err
	}

	profile := data.Profile
	profile.JvmArgs = append([]string(nil), profile.JvmArgs...)
	for _, opt := range data.Info.RelevantOptionals(info, msg.Optionals) {
		profile.JvmArgs = append(profile.JvmArgs, opt.ArgList()...)
	}
	return api.NewResponse(&req.ID, api.MessageProfile, api.ProfileReply{Profile: profile})
}

func (h *Handler) handleProfileResources(c *Client, req *api.ClientRequest) (api.ServerResponse, error) {
	var msg api.ProfileResourcesRequest
	if err := req.Decode(&msg); err != nil {
		return api.ServerResponse{}, err
	}
	if !msg.OsType.Valid() {
		return api.ServerResponse{}, fmt.Errorf("unknown os type %q", msg.OsType)
	}

	data, err := h.Catalog.Get(msg.Profile)
	if err != nil {
		return api.ServerResponse{}, err
	}
	resources, err := h.Hash.Resources(&data, msg.OsType, msg.Optionals)
	if err != nil {
		return api.ServerResponse{}, err
	}
	return api.NewResponse(&req.ID, api.MessageProfileResources, resources)
}

func (h *Handler) handleJoinServer(ctx context.Context, c *Client, req *api.ClientRequest) (api.ServerResponse, error) {
	var msg api.JoinServerRequest
	if err := req.Decode(&msg); err != nil {
		return api.ServerResponse{}, err
	}

	entry, err := h.Broker.Entry(ctx, msg.SelectedProfile)
	if err != nil {
		return api.ServerResponse{}, err
	}
	if entry.AccessToken == "" || entry.AccessToken != msg.AccessToken {
		return api.ServerResponse{}, errors.New("Access token error")
	}
	if err := h.Broker.SetServerID(ctx, msg.SelectedProfile, msg.ServerID); err != nil {
		return api.ServerResponse{}, err
	}
	return api.NewResponse(&req.ID, api.MessageEmpty, nil)
}

func (h *Handler) handleCustom(c *Client, req *api.ClientRequest) (api.ServerResponse, error) {
	var msg string
	if err := req.Decode(&msg); err != nil {
		return api.ServerResponse{}, err
	}
	if h.Extensions == nil {
		return api.ServerResponse{}, fmt.Errorf("no extension handled the message")
	}
	reply, err := h.Extensions.HandleCustom(msg, c)
	if err != nil {
		return api.ServerResponse{}, err
	}
	return api.NewResponse(&req.ID, api.MessageRuntime, reply)
}

func (c *Client) clientInfo() (api.ClientInfo, error) {
	if c.info == nil {
		return api.ClientInfo{}, errors.New("client info is not negotiated, send connected first")
	}
	return *c.info, nil
}

// newAccessToken mints a session access token: the lowercase hex md5 of
// three concatenated random decimal integers. The shape is kept for
// compatibility with the historical protocol; the entropy comes from the
// random integers, not the digest.
func newAccessToken() (string, error) {
	a, err := randRange(1000000000, 2147483647)
	if err != nil {
		return "", err
	}
	b, err := randRange(1000000000, 2147483647)
	if err != nil {
		return "", err
	}
	c, err := randRange(0, 9)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%d%d%d", a, b, c)))
	return hex.EncodeToString(sum[:]), nil
}

func randRange(lo, hi int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(hi-lo))
	if err != nil {
		return 0, fmt.Errorf("get randomness: %w", err)
	}
	return lo + n.Int64(), nil
}
