package api

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageType tags the payload of a request or response envelope.
type MessageType string

const (
	// client to server
	MessageAuth             MessageType = "auth"
	MessageConnected        MessageType = "connected"
	MessageProfilesInfo     MessageType = "profilesInfo"
	MessageProfile          MessageType = "profile"
	MessageProfileResources MessageType = "profileResources"
	MessageJoinServer       MessageType = "joinServer"
	MessageCustom           MessageType = "custom"

	// server to client
	MessageEmpty   MessageType = "empty"
	MessageRuntime MessageType = "runtime"
	MessageError   MessageType = "error"
)

// ClientRequest is the envelope for every client-to-server message. The id is
// random per request and echoed on the response.
type ClientRequest struct {
	ID   uuid.UUID       `json:"id"`
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerResponse is the envelope for every server-to-client message. A nil id
// marks an unsolicited notification.
type ServerResponse struct {
	ID   *uuid.UUID      `json:"id,omitempty"`
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewRequest wraps payload in an envelope with a fresh random id.
func NewRequest(typ MessageType, payload any) (ClientRequest, error) {
	req := ClientRequest{ID: uuid.New(), Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return ClientRequest{}, fmt.Errorf("encode %s request: %w", typ, err)
		}
		req.Data = data
	}
	return req, nil
}

// Decode unmarshals the request payload into v.
func (r *ClientRequest) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode %s request: %w", r.Type, err)
	}
	return nil
}

// NewResponse wraps payload in a response envelope. id is nil for unsolicited
// notifications.
func NewResponse(id *uuid.UUID, typ MessageType, payload any) (ServerResponse, error) {
	resp := ServerResponse{ID: id, Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return ServerResponse{}, fmt.Errorf("encode %s response: %w", typ, err)
		}
		resp.Data = data
	}
	return resp, nil
}

// Decode unmarshals the response payload into v.
func (r *ServerResponse) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode %s response: %w", r.Type, err)
	}
	return nil
}

// Err converts an error response into a Go error, and returns nil for every
// other response type.
func (r *ServerResponse) Err() error {
	if r.Type != MessageError {
		return nil
	}
	var e ErrorReply
	if err := r.Decode(&e); err != nil {
		return err
	}
	return fmt.Errorf("server: %s", e.Message)
}

// AuthRequest carries the login and the sealed password.
type AuthRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// AuthReply carries the authenticated identity and the fresh access token.
type AuthReply struct {
	UUID        string `json:"uuid"`
	AccessToken string `json:"accessToken"`
}

// ConnectedRequest negotiates the client platform.
type ConnectedRequest struct {
	ClientInfo ClientInfo `json:"clientInfo"`
}

// ProfilesInfoReply lists every profile visible to the client.
type ProfilesInfoReply struct {
	ProfilesInfo []ProfileInfo `json:"profilesInfo"`
}

// ProfileRequest asks for a profile resolved against the selected optionals.
type ProfileRequest struct {
	Profile   string   `json:"profile"`
	Optionals []string `json:"optionals"`
}

// ProfileReply carries the resolved profile.
type ProfileReply struct {
	Profile Profile `json:"profile"`
}

// ProfileResourcesRequest asks for the manifests of a profile.
type ProfileResourcesRequest struct {
	Profile   string   `json:"profile"`
	OsType    OsType   `json:"osType"`
	Optionals []string `json:"optionals"`
}

// ProfileResourcesReply carries the filtered manifests.
type ProfileResourcesReply struct {
	Profile   RemoteDirectory `json:"profile"`
	Libraries RemoteDirectory `json:"libraries"`
	Assets    RemoteDirectory `json:"assets"`
	Natives   RemoteDirectory `json:"natives"`
	Jre       RemoteDirectory `json:"jre"`
}

// JoinServerRequest proves a session is about to join a game server.
type JoinServerRequest struct {
	AccessToken     string    `json:"accessToken"`
	SelectedProfile uuid.UUID `json:"selectedProfile"`
	ServerID        string    `json:"serverId"`
}

// ErrorReply carries a handler error back to the requester.
type ErrorReply struct {
	Message string `json:"msg"`
}
