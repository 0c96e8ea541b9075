package launchserver

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestUnmarshalEnvDefaults(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv(nil, false); err != nil {
		t.Fatal(err)
	}
	if len(c.Addr) != 1 || c.Addr[0] != ":8080" {
		t.Errorf("addr default: %v", c.Addr)
	}
	if c.StaticDir != "static" {
		t.Errorf("static dir default: %q", c.StaticDir)
	}
	if c.Auth != "accept" {
		t.Errorf("auth default: %q", c.Auth)
	}
	if c.LogLevel != zerolog.DebugLevel {
		t.Errorf("log level default: %v", c.LogLevel)
	}
}

func TestUnmarshalEnvOverrides(t *testing.T) {
	var c Config
	err := c.UnmarshalEnv([]string{
		"LAUNCHSERVER_ADDR=:9090,:9091",
		"LAUNCHSERVER_LOG_LEVEL=warn",
		"LAUNCHSERVER_AUTH=sql",
		"LAUNCHSERVER_AUTH_SQL_DSN=file:auth.db",
		"LAUNCHSERVER_LOG_STDOUT=false",
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Addr) != 2 || c.Addr[1] != ":9091" {
		t.Errorf("addr: %v", c.Addr)
	}
	if c.LogLevel != zerolog.WarnLevel {
		t.Errorf("log level: %v", c.LogLevel)
	}
	if c.Auth != "sql" || c.AuthSQLDSN != "file:auth.db" {
		t.Errorf("auth: %q %q", c.Auth, c.AuthSQLDSN)
	}
	if c.LogStdout {
		t.Errorf("stdout should be off")
	}
}

func TestUnmarshalEnvUnsettable(t *testing.T) {
	var c Config
	// ?= vars can be explicitly cleared; plain ones keep the default when
	// set to empty.
	err := c.UnmarshalEnv([]string{
		"LAUNCHSERVER_ADDR=",
		"LAUNCHSERVER_STATIC_DIR=",
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Addr) != 0 {
		t.Errorf("addr should be clearable: %v", c.Addr)
	}
	if c.StaticDir != "static" {
		t.Errorf("static dir should keep its default: %q", c.StaticDir)
	}
}

func TestUnmarshalEnvUnknownVar(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv([]string{"LAUNCHSERVER_BOGUS=1"}, false); err == nil {
		t.Fatal("expected an error for an unknown variable")
	}
}

func TestUnmarshalEnvBadLevel(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv([]string{"LAUNCHSERVER_LOG_LEVEL=loud"}, false); err == nil {
		t.Fatal("expected a parse error")
	}
}
