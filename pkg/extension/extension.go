// Package extension defines the fixed-at-startup extension points of the
// launch server. Extensions are compiled in and listed when the server is
// built; there is no dynamic loading.
package extension

import (
	"errors"

	"github.com/team-ns/launcher/pkg/api"
)

// ErrUnhandled is returned when no extension claims a custom message.
var ErrUnhandled = errors.New("no extension handled the message")

// Session is the view of a connected client that extensions get.
type Session interface {
	// IP is the remote address of the connection.
	IP() string
	// Username is the authenticated user, or empty.
	Username() string
	// Notify pushes an unsolicited runtime message to the client.
	Notify(message string) error
}

// Command is a console command an extension contributes.
type Command struct {
	Name        string
	Description string
	Run         func(args []string)
}

// CommandRegister collects commands during extension setup.
type CommandRegister struct {
	commands map[string]Command
}

// Register adds a command, replacing any previous one with the same name.
func (r *CommandRegister) Register(cmd Command) {
	if r.commands == nil {
		r.commands = make(map[string]Command)
	}
	r.commands[cmd.Name] = cmd
}

// Commands returns the collected commands.
func (r *CommandRegister) Commands() map[string]Command {
	return r.commands
}

// Extension hooks into the server lifecycle and message pipeline.
type Extension interface {
	// Init is called once at startup.
	Init() error
	// RegisterCommands contributes console commands.
	RegisterCommands(r *CommandRegister)
	// OnConnect observes a new session.
	OnConnect(s Session)
	// PreHandle may answer a request before the built-in handlers. A nil
	// response passes the request through.
	PreHandle(req *api.ClientRequest, s Session) (*api.ServerResponse, error)
	// PostHandle may replace the response of a handled request. A nil
	// response keeps the original.
	PostHandle(req *api.ClientRequest, resp *api.ServerResponse, s Session) (*api.ServerResponse, error)
}

// CustomHandler is implemented by extensions that answer Custom messages.
type CustomHandler interface {
	// HandleCustom answers a free-form message. ok reports whether the
	// extension claimed it.
	HandleCustom(message string, s Session) (reply string, ok bool)
}

// Base is a no-op Extension, for embedding.
type Base struct{}

func (Base) Init() error                       { return nil }
func (Base) RegisterCommands(*CommandRegister) {}
func (Base) OnConnect(Session)                 {}
func (Base) PreHandle(*api.ClientRequest, Session) (*api.ServerResponse, error) {
	return nil, nil
}
func (Base) PostHandle(*api.ClientRequest, *api.ServerResponse, Session) (*api.ServerResponse, error) {
	return nil, nil
}

// Registry is the ordered set of extensions the server was built with.
type Registry struct {
	exts []Extension
}

// NewRegistry creates a registry over the given extensions.
func NewRegistry(exts ...Extension) *Registry {
	return &Registry{exts: exts}
}

// Init initializes every extension, stopping on the first error.
func (r *Registry) Init() error {
	for _, e := range r.exts {
		if err := e.Init(); err != nil {
			return err
		}
	}
	return nil
}

// Commands collects every extension's console commands.
func (r *Registry) Commands() map[string]Command {
	reg := &CommandRegister{}
	for _, e := range r.exts {
		e.RegisterCommands(reg)
	}
	return reg.Commands()
}

// OnConnect notifies every extension of a new session.
func (r *Registry) OnConnect(s Session) {
	for _, e := range r.exts {
		e.OnConnect(s)
	}
}

// PreHandle gives each extension a chance to answer req; the first non-nil
// response wins.
func (r *Registry) PreHandle(req *api.ClientRequest, s Session) (*api.ServerResponse, error) {
	for _, e := range r.exts {
		resp, err := e.PreHandle(req, s)
		if err != nil || resp != nil {
			return resp, err
		}
	}
	return nil, nil
}

// PostHandle gives each extension a chance to replace resp; the first
// non-nil replacement wins.
func (r *Registry) PostHandle(req *api.ClientRequest, resp *api.ServerResponse, s Session) (*api.ServerResponse, error) {
	for _, e := range r.exts {
		replaced, err := e.PostHandle(req, resp, s)
		if err != nil {
			return nil, err
		}
		if replaced != nil {
			return replaced, nil
		}
	}
	return resp, nil
}

// HandleCustom routes a Custom message through the extensions.
func (r *Registry) HandleCustom(message string, s Session) (string, error) {
	for _, e := range r.exts {
		if h, ok := e.(CustomHandler); ok {
			if reply, claimed := h.HandleCustom(message, s); claimed {
				return reply, nil
			}
		}
	}
	return "", ErrUnhandled
}
