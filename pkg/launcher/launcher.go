package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/team-ns/launcher/pkg/api"
	"github.com/team-ns/launcher/pkg/keys"
	"github.com/team-ns/launcher/pkg/launcher/client"
	"github.com/team-ns/launcher/pkg/launcher/game"
	"github.com/team-ns/launcher/pkg/launcher/host"
	"github.com/team-ns/launcher/pkg/launcher/settings"
	"github.com/team-ns/launcher/pkg/launcher/validate"
)

// AuthInfo is the identity of the logged-in user.
type AuthInfo struct {
	Username    string
	UUID        string
	AccessToken string
}

// App is the launcher core. One App owns one session; its methods are the
// command surface the UI shell drives.
type App struct {
	Log    zerolog.Logger
	Events host.Events

	cfg      Config
	pub      [32]byte
	osType   api.OsType
	httpc    *http.Client
	client   *client.Client
	settings *settings.Store
	auth     *AuthInfo
	joins    *game.Broker
}

// JoinBroker is the queue pair the embedding game runtime's join callback
// talks to. It is only valid while Play is running.
func (a *App) JoinBroker() *game.Broker {
	return a.joins
}

// New creates an App over a bundle config.
func New(cfg Config, events host.Events, log zerolog.Logger) (*App, error) {
	pub, err := cfg.PublicKeyBytes()
	if err != nil {
		return nil, err
	}
	osType, err := api.CurrentOs()
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = host.NopEvents{}
	}
	return &App{
		Log:    log,
		Events: events,
		cfg:    cfg,
		pub:    pub,
		osType: osType,
		httpc:  &http.Client{},
	}, nil
}

// Ready connects the session, negotiates the platform, loads settings, and
// performs the saved-credential auto-login when enabled. It returns the
// profile list when auto-login succeeded.
func (a *App) Ready(ctx context.Context) ([]api.ProfileInfo, settings.Settings, error) {
	c, err := client.Dial(ctx, a.cfg.Websocket, a.cfg.Version, a.Log.With().Str("component", "client").Logger())
	if err != nil {
		return nil, settings.Settings{}, err
	}
	a.client = c

	go func() {
		for msg := range c.Passthrough {
			a.Events.CustomMessage(msg)
		}
	}()

	if err := c.Connected(ctx, api.ClientInfo{OsType: a.osType}); err != nil {
		return nil, settings.Settings{}, err
	}

	s, err := settings.Load(a.cfg.GameDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.Log.Debug().Err(err).Msg("settings error, using defaults")
		}
		s = settings.Settings{GameDir: a.cfg.GameDir, Ram: a.cfg.Ram}
		if err := settings.Save(s); err != nil {
			return nil, settings.Settings{}, err
		}
	}
	a.settings = settings.NewStore(s)

	var profiles []api.ProfileInfo
	if s.SaveData && s.LastName != "" && s.SavedPassword != "" {
		profiles, err = a.loginSealed(ctx, s.LastName, s.SavedPassword)
		if err != nil {
			a.Log.Warn().Err(err).Msg("saved-credential login failed")
			s = a.settings.Update(func(s *settings.Settings) {
				s.SaveData = false
				s.LastName = ""
				s.SavedPassword = ""
			})
			if err := settings.Save(s); err != nil {
				return nil, s, err
			}
		}
	}
	return profiles, a.settings.Get(), nil
}

// Login seals the password to the embedded public key, authenticates, and
// optionally remembers the credentials.
func (a *App) Login(ctx context.Context, username, password string, remember bool) ([]api.ProfileInfo, error) {
	sealed, err := keys.Encrypt(a.pub, password)
	if err != nil {
		return nil, err
	}
	profiles, err := a.loginSealed(ctx, username, sealed)
	if err != nil {
		return nil, err
	}

	s := a.settings.Update(func(s *settings.Settings) {
		if remember {
			s.SaveData = true
			s.LastName = username
			s.SavedPassword = sealed
		} else {
			s.SaveData = false
			s.LastName = ""
			s.SavedPassword = ""
		}
	})
	if err := settings.Save(s); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (a *App) loginSealed(ctx context.Context, username, sealed string) ([]api.ProfileInfo, error) {
	reply, err := a.client.Auth(ctx, username, sealed)
	if err != nil {
		return nil, err
	}
	a.auth = &AuthInfo{
		Username:    username,
		UUID:        reply.UUID,
		AccessToken: reply.AccessToken,
	}
	return a.client.ProfilesInfo(ctx)
}

// Logout drops the identity and forgets any remembered credentials.
func (a *App) Logout() error {
	a.auth = nil
	s := a.settings.Update(func(s *settings.Settings) {
		s.SaveData = false
		s.LastName = ""
		s.SavedPassword = ""
	})
	return settings.Save(s)
}

// SaveSettings applies the user-editable settings and persists them.
func (a *App) SaveSettings(ram int64, optionals map[string][]string, properties map[string]string) error {
	s := a.settings.Update(func(s *settings.Settings) {
		if ram > 0 {
			s.Ram = ram
		}
		if optionals != nil {
			s.Optionals = optionals
		}
		if properties != nil {
			s.Properties = properties
		}
	})
	return settings.Save(s)
}

// SendCustomMessage forwards a free-form message to the server extension
// pipeline.
func (a *App) SendCustomMessage(ctx context.Context, message string) (string, error) {
	return a.client.Custom(ctx, message)
}

// errGameExited stops the play group when the game ends normally.
var errGameExited = errors.New("game exited")

// Play fetches the profile and its manifests, reconciles the game directory,
// and runs the game under the anti-tamper watch. It returns the process exit
// code to forward: the JVM's status normally, or non-zero alongside a
// *validate.Violation error when tampering was detected.
func (a *App) Play(ctx context.Context, profileName string) (int, error) {
	if a.auth == nil {
		return 1, errors.New("not authenticated")
	}
	s := a.settings.Get()
	optionals := s.OptionalsFor(profileName)

	resources, err := a.client.ProfileResources(ctx, profileName, a.osType, optionals)
	if err != nil {
		return 1, err
	}
	profile, err := a.client.Profile(ctx, profileName, optionals)
	if err != nil {
		return 1, err
	}

	remote := make(api.RemoteDirectory)
	remote.Merge(resources.Profile, resources.Libraries, resources.Assets, resources.Natives, resources.Jre)

	if err := validate.Reconcile(ctx, a.Log, a.httpc, a.Events, s.GameDir, remote, profile.UpdateVerify, profile.UpdateExclusion); err != nil {
		return 1, err
	}

	selected, err := uuid.Parse(a.auth.UUID)
	if err != nil {
		return 1, fmt.Errorf("parse session uuid: %w", err)
	}

	joins := game.NewBroker()
	a.joins = joins
	runner := &game.Runner{
		Log:     a.Log.With().Str("component", "game").Logger(),
		GameDir: s.GameDir,
		RamMB:   s.Ram,
		Profile: profile,
		Auth: game.AuthInfo{
			Username:    a.auth.Username,
			UUID:        a.auth.UUID,
			AccessToken: a.auth.AccessToken,
		},
	}

	// Three cooperating tasks while the game runs; the first to finish or
	// fail cancels the others.
	var exitCode int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return validate.Watch(gctx, a.Log.With().Str("component", "watcher").Logger(), s.GameDir, remote, profile.UpdateVerify, profile.UpdateExclusion)
	})
	g.Go(func() error {
		return joins.Respond(gctx, &joinSender{app: a, selected: selected})
	})
	g.Go(func() error {
		code, err := runner.Run(gctx)
		if err != nil {
			return err
		}
		exitCode = code
		return errGameExited
	})

	err = g.Wait()
	var violation *validate.Violation
	switch {
	case errors.Is(err, errGameExited):
		return exitCode, nil
	case errors.As(err, &violation):
		a.Log.Error().Str("path", violation.Path).Msg("tampering detected, terminating game")
		a.Events.Error(violation.Error())
		return 1, violation
	case err != nil && !errors.Is(err, context.Canceled):
		return 1, err
	default:
		return exitCode, nil
	}
}

// joinSender adapts the session client to the join broker, filling in the
// session's profile uuid when the in-game callback doesn't carry one.
type joinSender struct {
	app      *App
	selected uuid.UUID
}

func (j *joinSender) JoinServer(ctx context.Context, accessToken string, selectedProfile uuid.UUID, serverID string) error {
	if selectedProfile == uuid.Nil {
		selectedProfile = j.selected
	}
	return j.app.client.JoinServer(ctx, accessToken, selectedProfile, serverID)
}
