// Package launchserver runs the launch server.
package launchserver

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Config contains the configuration for the launch server. The env struct
// tag contains the environment variable name and the default value if
// missing, or empty (if not ?=). All string arrays are comma-separated.
type Config struct {
	// The addresses to listen on (comma-separated).
	Addr []string `env:"LAUNCHSERVER_ADDR?=:8080"`

	// The addresses to listen on with TLS (comma-separated).
	AddrTLS []string `env:"LAUNCHSERVER_ADDR_HTTPS"`

	// Comma-separated list of paths to SSL server certificates. The .crt and
	// .key extensions will be appended automatically. Required if AddrTLS is
	// set.
	ServerCerts []string `env:"LAUNCHSERVER_SERVER_CERTS"`

	// The minimum log level (e.g., trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"LAUNCHSERVER_LOG_LEVEL=debug"`

	// Whether to log to stdout.
	LogStdout bool `env:"LAUNCHSERVER_LOG_STDOUT=true"`

	// Whether to use pretty logs.
	LogStdoutPretty bool `env:"LAUNCHSERVER_LOG_STDOUT_PRETTY=true"`

	// The log file to output to, if provided.
	LogFile string `env:"LAUNCHSERVER_LOG_FILE"`

	// The minimum log level for the log file.
	LogFileLevel zerolog.Level `env:"LAUNCHSERVER_LOG_FILE_LEVEL=info"`

	// The root of the static content tree.
	StaticDir string `env:"LAUNCHSERVER_STATIC_DIR=static"`

	// The directory holding (or receiving) the server keypair.
	KeysDir string `env:"LAUNCHSERVER_KEYS_DIR=."`

	// The base URL clients download files from; the static tree is served
	// beneath it.
	FileServerBaseURL string `env:"LAUNCHSERVER_FILE_SERVER_BASE_URL?=http://127.0.0.1:8080/files"`

	// The number of concurrent file reads during a rehash.
	Workers int `env:"LAUNCHSERVER_WORKERS=50"`

	// Minimum launcher semver to allow on the session endpoint. Dev versions
	// are always allowed. If not provided, all versions are allowed.
	MinimumLauncherVersion string `env:"LAUNCHSERVER_MINIMUM_LAUNCHER_VERSION"`

	// The credential broker to use:
	//  - accept
	//  - json
	//  - sql
	Auth string `env:"LAUNCHSERVER_AUTH=accept"`

	// Delegated HTTP broker endpoints and key.
	AuthJSONAuthURL           string `env:"LAUNCHSERVER_AUTH_JSON_AUTH_URL"`
	AuthJSONEntryURL          string `env:"LAUNCHSERVER_AUTH_JSON_ENTRY_URL"`
	AuthJSONSetAccessTokenURL string `env:"LAUNCHSERVER_AUTH_JSON_SET_ACCESS_TOKEN_URL"`
	AuthJSONSetServerIDURL    string `env:"LAUNCHSERVER_AUTH_JSON_SET_SERVER_ID_URL"`
	AuthJSONAPIKey            string `env:"LAUNCHSERVER_AUTH_JSON_API_KEY"`

	// Relational broker driver, DSN, and statements.
	AuthSQLDriver              string `env:"LAUNCHSERVER_AUTH_SQL_DRIVER=sqlite3"`
	AuthSQLDSN                 string `env:"LAUNCHSERVER_AUTH_SQL_DSN"`
	AuthSQLAuthQuery           string `env:"LAUNCHSERVER_AUTH_SQL_AUTH_QUERY?=SELECT 1 FROM users WHERE username = ? AND password = ?"`
	AuthSQLAuthMessage         string `env:"LAUNCHSERVER_AUTH_SQL_AUTH_MESSAGE?=Wrong login or password"`
	AuthSQLEntryUUIDQuery      string `env:"LAUNCHSERVER_AUTH_SQL_ENTRY_UUID_QUERY?=SELECT uuid, username, access_token, server_id FROM users WHERE uuid = ?"`
	AuthSQLEntryNameQuery      string `env:"LAUNCHSERVER_AUTH_SQL_ENTRY_NAME_QUERY?=SELECT uuid, username, access_token, server_id FROM users WHERE username = ?"`
	AuthSQLSetAccessTokenQuery string `env:"LAUNCHSERVER_AUTH_SQL_SET_ACCESS_TOKEN_QUERY?=UPDATE users SET access_token = ? WHERE uuid = ?"`
	AuthSQLSetServerIDQuery    string `env:"LAUNCHSERVER_AUTH_SQL_SET_SERVER_ID_QUERY?=UPDATE users SET server_id = ? WHERE uuid = ?"`

	// Texture URL templates with {username} and {uuid} placeholders.
	TextureSkinURL string `env:"LAUNCHSERVER_TEXTURE_SKIN_URL?=http://example.com/skin/{username}.png"`
	TextureCapeURL string `env:"LAUNCHSERVER_TEXTURE_CAPE_URL?=http://example.com/cape/{username}.png"`

	// Secret token for accessing internal metrics.
	MetricsSecret string `env:"LAUNCHSERVER_METRICS_SECRET"`

	// For sd-notify.
	NotifySocket string `env:"NOTIFY_SOCKET"`
}

// UnmarshalEnv unmarshals an array of environment variables into c, setting
// default values as appropriate. If incremental is true, default values will
// not be set for missing env vars, but only for empty ones.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "LAUNCHSERVER_") || strings.HasPrefix(e, "NOTIFY_SOCKET=") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		// get the default value, and check if it can be explicitly set to an
		// empty value
		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case int:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case []string:
			if val == "" {
				cvf.Set(reflect.ValueOf([]string{}))
			} else {
				cvf.Set(reflect.ValueOf(strings.Split(val, ",")))
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
