package launchserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/team-ns/launcher/pkg/broker"
	"github.com/team-ns/launcher/pkg/catalog"
	"github.com/team-ns/launcher/pkg/extension"
	"github.com/team-ns/launcher/pkg/hashtree"
	"github.com/team-ns/launcher/pkg/joinapi"
	"github.com/team-ns/launcher/pkg/keys"
	"github.com/team-ns/launcher/pkg/session"
)

// Server is the assembled launch server.
type Server struct {
	Logger zerolog.Logger

	Addr          []string
	AddrTLS       []string
	TLSConfig     *tls.Config
	Handler       http.Handler
	NotifySocket  string
	MetricsSecret string

	Keys       *keys.ServerKeys
	Broker     broker.Provider
	Catalog    *catalog.Service
	Hash       *hashtree.Service
	Session    *session.Handler
	Join       *joinapi.Handler
	Extensions *extension.Registry

	baseURL string
	closed  bool
}

// NewServer configures a new server using c, which is assumed to be
// initialized to default or configured values (as done by UnmarshalEnv). The
// extension list is fixed at startup; exts may be empty.
func NewServer(c *Config, exts ...extension.Extension) (*Server, error) {
	var s Server

	s.Addr = c.Addr
	s.AddrTLS = c.AddrTLS
	s.NotifySocket = c.NotifySocket
	s.MetricsSecret = c.MetricsSecret
	s.baseURL = strings.TrimSuffix(c.FileServerBaseURL, "/")

	if l, err := configureLogging(c); err == nil {
		s.Logger = l
	} else {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	if k, err := keys.LoadServer(c.KeysDir); err == nil {
		s.Keys = k
	} else {
		return nil, fmt.Errorf("initialize keys: %w", err)
	}

	if b, err := configureBroker(c); err == nil {
		s.Broker = b
	} else {
		return nil, fmt.Errorf("initialize credential broker: %w", err)
	}

	s.Extensions = extension.NewRegistry(exts...)
	if err := s.Extensions.Init(); err != nil {
		return nil, fmt.Errorf("initialize extensions: %w", err)
	}

	s.Catalog = catalog.New(s.Logger.With().Str("component", "catalog").Logger(), c.StaticDir)
	if err := s.Catalog.Reload(); err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	s.Hash = hashtree.New(s.Logger.With().Str("component", "hashtree").Logger(), c.StaticDir)
	s.Hash.Parallelism = c.Workers

	s.Session = &session.Handler{
		Log:                    s.Logger.With().Str("component", "session").Logger(),
		Keys:                   s.Keys,
		Broker:                 s.Broker,
		Catalog:                s.Catalog,
		Hash:                   s.Hash,
		Extensions:             s.Extensions,
		MinimumLauncherVersion: c.MinimumLauncherVersion,
	}

	s.Join = &joinapi.Handler{
		Broker:  s.Broker,
		SkinURL: c.TextureSkinURL,
		CapeURL: c.TextureCapeURL,
	}

	var m middlewares
	m.Add(hlog.NewHandler(s.Logger.With().Str("component", "http").Logger()))
	m.Add(hlog.RequestIDHandler("rid", "X-Launcher-Request-Id"))
	m.Add(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("request_ip", r.RemoteAddr).
			Str("request_method", r.Method).
			Stringer("request_uri", r.URL).
			Int("response_status", status).
			Int("response_size", size).
			Dur("response_duration", duration).
			Msg("handle request")
	}))

	files := http.StripPrefix("/files/", http.FileServer(http.Dir(c.StaticDir)))
	s.Handler = m.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api":
			s.Session.ServeHTTP(w, r)
		case strings.HasPrefix(r.URL.Path, "/files/"):
			if strings.HasSuffix(r.URL.Path, "/") {
				// Files only, no directory listings.
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
				return
			}
			files.ServeHTTP(w, r)
		case r.URL.Path == "/metrics":
			s.serveMetrics(w, r)
		default:
			s.Join.ServeHTTP(w, r)
		}
	}))

	if cfg, err := configureServerTLS(c); err == nil {
		s.TLSConfig = cfg
	} else {
		return nil, fmt.Errorf("initialize server tls: %w", err)
	}

	return &s, nil
}

func configureLogging(c *Config) (zerolog.Logger, error) {
	var ws []io.Writer
	if c.LogStdout {
		if c.LogStdoutPretty {
			ws = append(ws, zerolog.ConsoleWriter{Out: os.Stdout})
		} else {
			ws = append(ws, os.Stdout)
		}
	}
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file: %w", err)
		}
		ws = append(ws, newWriterLevel(f, c.LogFileLevel))
	}
	if len(ws) == 0 {
		ws = append(ws, io.Discard)
	}
	return zerolog.New(zerolog.MultiLevelWriter(ws...)).Level(c.LogLevel).With().Timestamp().Logger(), nil
}

func configureBroker(c *Config) (broker.Provider, error) {
	switch c.Auth {
	case "accept":
		return broker.NewAcceptProvider(), nil
	case "json":
		for _, v := range []struct{ name, val string }{
			{"LAUNCHSERVER_AUTH_JSON_AUTH_URL", c.AuthJSONAuthURL},
			{"LAUNCHSERVER_AUTH_JSON_ENTRY_URL", c.AuthJSONEntryURL},
			{"LAUNCHSERVER_AUTH_JSON_SET_ACCESS_TOKEN_URL", c.AuthJSONSetAccessTokenURL},
			{"LAUNCHSERVER_AUTH_JSON_SET_SERVER_ID_URL", c.AuthJSONSetServerIDURL},
		} {
			if v.val == "" {
				return nil, fmt.Errorf("json: %s is required", v.name)
			}
		}
		return broker.NewJSONProvider(broker.JSONConfig{
			AuthURL:           c.AuthJSONAuthURL,
			EntryURL:          c.AuthJSONEntryURL,
			SetAccessTokenURL: c.AuthJSONSetAccessTokenURL,
			SetServerIDURL:    c.AuthJSONSetServerIDURL,
			APIKey:            c.AuthJSONAPIKey,
		}), nil
	case "sql":
		if c.AuthSQLDSN == "" {
			return nil, fmt.Errorf("sql: LAUNCHSERVER_AUTH_SQL_DSN is required")
		}
		return broker.NewSQLProvider(broker.SQLConfig{
			Driver:              c.AuthSQLDriver,
			DSN:                 c.AuthSQLDSN,
			AuthQuery:           c.AuthSQLAuthQuery,
			AuthMessage:         c.AuthSQLAuthMessage,
			EntryUUIDQuery:      c.AuthSQLEntryUUIDQuery,
			EntryNameQuery:      c.AuthSQLEntryNameQuery,
			SetAccessTokenQuery: c.AuthSQLSetAccessTokenQuery,
			SetServerIDQuery:    c.AuthSQLSetServerIDQuery,
		})
	default:
		return nil, fmt.Errorf("unknown broker type %q", c.Auth)
	}
}

func configureServerTLS(c *Config) (*tls.Config, error) {
	var t tls.Config
	if len(c.ServerCerts) != 0 {
		for _, fn := range c.ServerCerts {
			cert, err := tls.LoadX509KeyPair(fn+".crt", fn+".key")
			if err != nil {
				return nil, fmt.Errorf("load server certificate %q: %w", fn, err)
			}
			t.Certificates = append(t.Certificates, cert)
		}
	} else if len(c.AddrTLS) != 0 {
		return nil, fmt.Errorf("no tls certificates provided")
	}
	return &t, nil
}

// Rehash refreshes the manifests of the sub-passes named by args (all when
// empty).
func (s *Server) Rehash(ctx context.Context, args []string) error {
	return s.Hash.Rehash(ctx, args, s.baseURL, s.Catalog.Data())
}

// Run runs the server, rehashing the static tree first and shutting down
// gracefully when ctx is canceled. It must only ever be called once.
func (s *Server) Run(ctx context.Context) error {
	if s.closed {
		return http.ErrServerClosed
	}

	if err := s.Rehash(ctx, nil); err != nil {
		return fmt.Errorf("initial rehash: %w", err)
	}

	var hs []*http.Server
	var as []string
	for _, a := range s.Addr {
		hs = append(hs, &http.Server{
			Addr:    a,
			Handler: s.Handler,
		})
		as = append(as, "http://"+a)
	}
	for _, a := range s.AddrTLS {
		hs = append(hs, &http.Server{
			Addr:      a,
			Handler:   s.Handler,
			TLSConfig: s.TLSConfig,
		})
		as = append(as, "https://"+a)
	}
	if len(hs) == 0 {
		return fmt.Errorf("no listen addresses provided")
	}
	s.Logger.Log().Msgf("starting server on %s", strings.Join(as, ", "))

	errch := make(chan error, len(hs))
	for _, h := range hs {
		h := h
		go func() {
			if h.TLSConfig != nil {
				errch <- h.ListenAndServeTLS("", "")
			} else {
				errch <- h.ListenAndServe()
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second * 2):
		go s.sdnotify("READY=1")
	case err := <-errch:
		s.Logger.Err(err).Msg("failed to start server")
		return err
	}

	select {
	case <-ctx.Done():
		s.closed = true
		s.Logger.Log().Msg("shutting down")

		go s.sdnotify("STOPPING=1")

		var wg sync.WaitGroup
		for _, h := range hs {
			h := h
			wg.Add(1)
			go func() {
				h.Shutdown(context.Background())
				wg.Done()
			}()
		}
		wg.Wait()

		if c, ok := s.Broker.(io.Closer); ok {
			c.Close()
		}
		return nil
	case err := <-errch:
		s.Logger.Err(err).Msg("failed to start server")
		return err
	}
}

// HandleSIGHUP reloads the profile catalog and rehashes the static tree.
func (s *Server) HandleSIGHUP() {
	if s.closed {
		return
	}

	s.sdnotify("RELOADING=1")
	defer s.sdnotify("READY=1")

	if err := s.Catalog.Reload(); err != nil {
		s.Logger.Err(err).Msg("failed to reload profiles")
		return
	}
	if err := s.Rehash(context.Background(), nil); err != nil {
		s.Logger.Err(err).Msg("failed to rehash")
	}
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	var internal bool
	if sec := s.MetricsSecret; sec != "" {
		if r.URL.Query().Get("secret") == sec {
			internal = true
		}
	}
	if !internal {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var b bytes.Buffer
	metrics.WriteProcessMetrics(&b)
	b.WriteByte('\n')
	s.Session.WritePrometheus(&b)
	b.WriteByte('\n')
	s.Join.WritePrometheus(&b)

	w.Header().Set("Cache-Control", "private, no-cache, no-store")
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Header().Set("Content-Length", strconv.Itoa(b.Len()))
	w.WriteHeader(http.StatusOK)
	b.WriteTo(w)
}

func (s *Server) sdnotify(state string) (bool, error) {
	if s.NotifySocket == "" {
		return false, nil
	}

	socketAddr := &net.UnixAddr{
		Name: s.NotifySocket,
		Net:  "unixgram",
	}

	conn, err := net.DialUnix(socketAddr.Net, nil, socketAddr)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if _, err = conn.Write([]byte(state)); err != nil {
		return false, err
	}
	return true, nil
}
