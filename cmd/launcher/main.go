// Command launcher authenticates a player, reconciles the game directory
// against the server manifests, and runs the game under the anti-tamper
// watch. It drives the launcher core directly; a UI shell embeds the same
// core through its command surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/team-ns/launcher/pkg/launcher"
	"github.com/team-ns/launcher/pkg/launcher/host"
	"github.com/team-ns/launcher/pkg/launcher/validate"
)

var opt struct {
	Config   string
	Username string
	Password string
	Profile  string
	Remember bool
	Help     bool
}

func init() {
	pflag.StringVarP(&opt.Config, "config", "c", "config.json", "Path to the bundle config")
	pflag.StringVarP(&opt.Username, "username", "u", "", "Login name")
	pflag.StringVarP(&opt.Password, "password", "p", "", "Password (omit to use saved credentials)")
	pflag.StringVar(&opt.Profile, "profile", "", "Profile to launch")
	pflag.BoolVar(&opt.Remember, "remember", false, "Remember the credentials")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()
	if opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(2)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := launcher.LoadConfig(opt.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("can't load config")
	}

	app, err := launcher.New(cfg, logEvents{log}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize launcher")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, _, err := app.Ready(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("can't connect")
	}

	if opt.Username != "" && opt.Password != "" {
		if profiles, err = app.Login(ctx, opt.Username, opt.Password, opt.Remember); err != nil {
			log.Fatal().Err(err).Msg("login failed")
		}
	} else if profiles == nil {
		log.Fatal().Msg("no saved credentials; pass --username and --password")
	}

	name := opt.Profile
	if name == "" {
		if len(profiles) == 0 {
			log.Fatal().Msg("no profiles available")
		}
		name = profiles[0].Name
	}

	code, err := app.Play(ctx, name)
	if err != nil {
		var violation *validate.Violation
		if errors.As(err, &violation) {
			// The game must not continue with unverified content.
			os.Exit(code)
		}
		log.Fatal().Err(err).Msg("play failed")
	}
	os.Exit(code)
}

// logEvents writes host notifications to the log; the UI shell replaces this
// with its own implementation.
type logEvents struct {
	log zerolog.Logger
}

var _ host.Events = logEvents{}

func (e logEvents) DownloadTotal(total int64) {
	e.log.Info().Int64("total", total).Msg("download started")
}

func (e logEvents) DownloadProgress(received, total int64) {
	e.log.Debug().Int64("received", received).Int64("total", total).Msg("download progress")
}

func (e logEvents) DownloadWait() {
	e.log.Info().Msg("download complete")
}

func (e logEvents) Error(message string) {
	e.log.Error().Msg(message)
}

func (e logEvents) CustomMessage(payload string) {
	e.log.Info().Str("payload", payload).Msg("server message")
}
