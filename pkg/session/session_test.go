package session_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/team-ns/launcher/pkg/api"
	"github.com/team-ns/launcher/pkg/broker"
	"github.com/team-ns/launcher/pkg/catalog"
	"github.com/team-ns/launcher/pkg/hashtree"
	"github.com/team-ns/launcher/pkg/keys"
	"github.com/team-ns/launcher/pkg/launcher/client"
	"github.com/team-ns/launcher/pkg/session"
)

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func fakeELF(class byte) []byte {
	buf := make([]byte, 16)
	copy(buf, "\x7fELF")
	buf[4] = class
	return buf
}

type testServer struct {
	srv    *httptest.Server
	keys   *keys.ServerKeys
	broker broker.Provider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()

	writeFile(t, root, "profiles/P1/profile.json", []byte(`{
		"name": "P1", "version": "1.16", "libraries": ["lib1.jar"],
		"classPath": ["minecraft.jar"], "mainClass": "Main",
		"jvmArgs": ["-XX:+UseG1GC"], "clientArgs": [],
		"assets": "main", "assetsDir": "assets"
	}`))
	writeFile(t, root, "profiles/P1/optionals.json", []byte(`[
		{"rules": [{"osType": {"osType": "LinuxX64"}}],
		 "actions": [{"args": ["-Dextra=1"]}]}
	]`))
	writeFile(t, root, "profiles/P1/client.jar", []byte("client"))
	writeFile(t, root, "libraries/lib1.jar", []byte("lib"))
	writeFile(t, root, "assets/main/icon.png", []byte("png"))
	writeFile(t, root, "natives/1.16/l64.so", fakeELF(2))
	writeFile(t, root, "jre/default/LinuxX64/bin/java", []byte("elf"))

	k, err := keys.LoadServer(t.TempDir())
	require.NoError(t, err)

	cat := catalog.New(zerolog.Nop(), root)
	require.NoError(t, cat.Reload())

	hash := hashtree.New(zerolog.Nop(), root)
	require.NoError(t, hash.Rehash(context.Background(), nil, "http://files.example.com", cat.Data()))

	b := broker.NewAcceptProvider()
	h := &session.Handler{
		Log:     zerolog.Nop(),
		Keys:    k,
		Broker:  b,
		Catalog: cat,
		Hash:    hash,
	}

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, keys: k, broker: b}
}

func (ts *testServer) dial(t *testing.T) *client.Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	c, err := client.Dial(context.Background(), url, "", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAuthFlow(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := ts.dial(t)

	require.NoError(t, c.Connected(ctx, api.ClientInfo{OsType: api.LinuxX64}))

	sealed, err := keys.Encrypt(ts.keys.Public(), "secret")
	require.NoError(t, err)
	reply, err := c.Auth(ctx, "alice", sealed)
	require.NoError(t, err)

	id, err := uuid.Parse(reply.UUID)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), reply.AccessToken)

	e, err := ts.broker.Entry(ctx, id)
	require.NoError(t, err)
	require.Equal(t, reply.AccessToken, e.AccessToken)
	require.Empty(t, e.ServerID)
}

func TestAuthBadPassword(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := ts.dial(t)

	_, err := c.Auth(ctx, "alice", "bm90IHNlYWxlZA==")
	require.Error(t, err)

	// The connection survives logical errors.
	require.NoError(t, c.Connected(ctx, api.ClientInfo{OsType: api.LinuxX64}))
}

func TestProfilesInfoNeedsConnected(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := ts.dial(t)

	_, err := c.ProfilesInfo(ctx)
	require.Error(t, err)

	require.NoError(t, c.Connected(ctx, api.ClientInfo{OsType: api.LinuxX64}))
	infos, err := c.ProfilesInfo(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "P1", infos[0].Name)
}

func TestProfileExtendsJvmArgs(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := ts.dial(t)
	require.NoError(t, c.Connected(ctx, api.ClientInfo{OsType: api.LinuxX64}))

	profile, err := c.Profile(ctx, "P1", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"-XX:+UseG1GC", "-Dextra=1"}, profile.JvmArgs)

	_, err = c.Profile(ctx, "nope", nil)
	require.Error(t, err)
}

func TestProfileResources(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := ts.dial(t)
	require.NoError(t, c.Connected(ctx, api.ClientInfo{OsType: api.LinuxX64}))

	res, err := c.ProfileResources(ctx, "P1", api.LinuxX64, nil)
	require.NoError(t, err)
	require.Contains(t, res.Profile, "profiles/P1/client.jar")
	require.Contains(t, res.Libraries, "libraries/lib1.jar")
	require.Contains(t, res.Assets, "assets/main/icon.png")
	require.Contains(t, res.Natives, "natives/1.16/l64.so")
	require.Contains(t, res.Jre, "jre/default/bin/java")
}

func TestJoinServer(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := ts.dial(t)
	require.NoError(t, c.Connected(ctx, api.ClientInfo{OsType: api.LinuxX64}))

	sealed, err := keys.Encrypt(ts.keys.Public(), "secret")
	require.NoError(t, err)
	reply, err := c.Auth(ctx, "alice", sealed)
	require.NoError(t, err)
	id := uuid.MustParse(reply.UUID)

	// Wrong token is rejected and nothing is stored.
	err = c.JoinServer(ctx, "bogus", id, "srv1")
	require.ErrorContains(t, err, "Access token error")
	e, err := ts.broker.Entry(ctx, id)
	require.NoError(t, err)
	require.Empty(t, e.ServerID)

	// The current token works.
	require.NoError(t, c.JoinServer(ctx, reply.AccessToken, id, "srv1"))
	e, err = ts.broker.Entry(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "srv1", e.ServerID)
}

func TestCustomWithoutExtensions(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := ts.dial(t)

	_, err := c.Custom(ctx, "ping")
	require.Error(t, err)
}

func TestRequestOrdering(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	c := ts.dial(t)

	// Repeated requests on one connection are answered in order, and an
	// invalid one errors without killing the session.
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Connected(ctx, api.ClientInfo{OsType: api.LinuxX64}))
	}
	require.Error(t, c.Connected(ctx, api.ClientInfo{OsType: "Amiga"}))
	require.NoError(t, c.Connected(ctx, api.ClientInfo{OsType: api.LinuxX64}))
}
