package target

import (
	"fmt"
	"log/slog"
	"strings"
)

// Schemes are the protocols every file target gets a directive for, in write order.
var Schemes = []string{"http", "https", "ftp", "socks"}

// Secret holds a password. It never renders its plaintext through fmt or slog.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Reveal returns the plaintext.
func (s Secret) Reveal() string {
	return string(s)
}

// Endpoint is the proxy the operator wants applied.
type Endpoint struct {
	Host     string
	Port     string
	Username string
	Password Secret
}

// Validate checks that host and port are present and credentials are all-or-nothing.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("proxy host is required")
	}
	if strings.TrimSpace(e.Port) == "" {
		return fmt.Errorf("proxy port is required")
	}
	if (e.Username == "") != (e.Password == "") {
		return ErrPartialCredentials
	}
	return nil
}

// HasCredentials reports whether an authority segment will be emitted.
func (e Endpoint) HasCredentials() bool {
	return e.Username != "" && e.Password != ""
}

// Authority returns "user:pass@" or "". Credentials are not escaped.
func (e Endpoint) Authority() string {
	if !e.HasCredentials() {
		return ""
	}
	return e.Username + ":" + e.Password.Reveal() + "@"
}

// URL renders "<scheme>://<auth><host>:<port>/".
func (e Endpoint) URL(scheme string) string {
	return e.baseURL(scheme) + "/"
}

func (e Endpoint) baseURL(scheme string) string {
	return scheme + "://" + e.Authority() + e.Host + ":" + e.Port
}

// LogValue keeps the password out of logs.
func (e Endpoint) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", e.Host),
		slog.String("port", e.Port),
		slog.Bool("auth", e.HasCredentials()),
	)
}
