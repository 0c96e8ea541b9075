package game

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/team-ns/launcher/pkg/api"
)

type fakeSender struct {
	got  []JoinRequest
	fail error
}

func (s *fakeSender) JoinServer(_ context.Context, accessToken string, selectedProfile uuid.UUID, serverID string) error {
	s.got = append(s.got, JoinRequest{
		AccessToken:     accessToken,
		SelectedProfile: selectedProfile,
		ServerID:        serverID,
	})
	return s.fail
}

func TestBrokerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroker()
	sender := &fakeSender{}
	done := make(chan struct{})
	go func() {
		b.Respond(ctx, sender)
		close(done)
	}()

	id := uuid.New()
	reply := b.RequestJoin(JoinRequest{AccessToken: "tok", SelectedProfile: id, ServerID: "srv1"})
	if reply != "" {
		t.Fatalf("success should reply with an empty string, got %q", reply)
	}
	if len(sender.got) != 1 || sender.got[0].ServerID != "srv1" {
		t.Fatalf("request not forwarded: %+v", sender.got)
	}

	sender.fail = errors.New("Access token error")
	reply = b.RequestJoin(JoinRequest{AccessToken: "bad", SelectedProfile: id, ServerID: "srv2"})
	if reply != "Access token error" {
		t.Fatalf("failure should carry the error text, got %q", reply)
	}

	cancel()
	<-done
}

func TestRunnerArgs(t *testing.T) {
	r := &Runner{
		Log:     zerolog.Nop(),
		GameDir: filepath.FromSlash("/game"),
		RamMB:   2048,
		Profile: api.Profile{
			Name:       "P1",
			Version:    "1.16",
			Jre:        "default",
			MainClass:  "net.minecraft.client.main.Main",
			ClassPath:  []string{"minecraft.jar"},
			Libraries:  []string{"lib1.jar"},
			JvmArgs:    []string{"-XX:+UseG1GC"},
			ClientArgs: []string{"--username", "{username}", "--uuid", "{uuid}", "--accessToken", "{accessToken}"},
		},
		Auth: AuthInfo{Username: "alice", UUID: "u-u-i-d", AccessToken: "tok"},
	}

	args := r.Args()
	joined := strings.Join(args, " ")

	if args[0] != "-Xmx2048M" {
		t.Errorf("ram flag: %v", args[0])
	}
	if !strings.Contains(joined, "-Djava.library.path=") || !strings.Contains(joined, filepath.FromSlash("natives/1.16")) {
		t.Errorf("natives path missing: %s", joined)
	}
	if !strings.Contains(joined, "minecraft.jar") || !strings.Contains(joined, "lib1.jar") {
		t.Errorf("classpath missing entries: %s", joined)
	}
	if !strings.Contains(joined, "-XX:+UseG1GC") {
		t.Errorf("jvm args missing: %s", joined)
	}
	if !strings.Contains(joined, "--username alice") || !strings.Contains(joined, "--uuid u-u-i-d") || !strings.Contains(joined, "--accessToken tok") {
		t.Errorf("auth substitution failed: %s", joined)
	}

	// The main class separates JVM args from client args.
	mainAt := -1
	userAt := -1
	for i, a := range args {
		if a == "net.minecraft.client.main.Main" {
			mainAt = i
		}
		if a == "--username" {
			userAt = i
		}
	}
	if mainAt == -1 || userAt < mainAt {
		t.Errorf("argument order wrong: %v", args)
	}
}

func TestJavaBinary(t *testing.T) {
	r := &Runner{GameDir: filepath.FromSlash("/game"), Profile: api.Profile{Jre: "default"}}
	bin := r.javaBinary()
	if !strings.Contains(api.NormalizePath(bin), "jre/default/bin/java") {
		t.Errorf("java binary: %s", bin)
	}
}
