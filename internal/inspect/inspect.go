package inspect

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/BadgerOps/proxysync/internal/safety"
	"github.com/BadgerOps/proxysync/internal/target"
)

// Current is the endpoint read back from the package manager config.
// Fields come from loose text matching and may be empty or odd for lines
// not written by this tool.
type Current struct {
	Set         bool
	Host        string
	Port        string
	Username    string
	PasswordLen int
	Line        string
}

// HasCredentials reports whether the directive carried an authority segment.
func (c *Current) HasCredentials() bool {
	return c.Username != "" || c.PasswordLen > 0
}

// Render formats c for the terminal. The password is shown as one '*'
// per character, never in plain text.
func (c *Current) Render() string {
	if !c.Set {
		return "No proxy is set"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP Proxy: %s\n", c.Host)
	fmt.Fprintf(&b, "Port: %s\n", c.Port)
	if c.HasCredentials() {
		fmt.Fprintf(&b, "Username: %s\n", c.Username)
		fmt.Fprintf(&b, "Password: %s\n", strings.Repeat("*", c.PasswordLen))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// ReadCurrent reads the package manager file at path and parses its first
// line. An absent or empty file means no proxy is set.
func ReadCurrent(path string) (*Current, error) {
	data, err := safety.ReadFileWithLimit(path, safety.MaxConfigFileSize)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Current{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return &Current{}, nil
	}

	first, _, _ := strings.Cut(string(data), "\n")
	return ParseLine(first), nil
}

// ParseLine extracts the endpoint from one Acquire directive.
func ParseLine(line string) *Current {
	c := &Current{Set: true, Line: line}

	lastColon := strings.LastIndex(line, ":")
	lastSlash := strings.LastIndex(line, "/")
	c.Port = between(line, lastColon+1, lastSlash)

	at := strings.LastIndex(line, "@")
	if at < 0 {
		start := strings.LastIndex(line, "://")
		if start >= 0 {
			start += len("://")
		}
		c.Host = between(line, start, lastColon)
		return c
	}

	c.Host = between(line, at+1, lastColon)
	if _, rest, ok := strings.Cut(line, "://"); ok {
		c.Username, _, _ = strings.Cut(rest, ":")
	}
	if pwStart := strings.LastIndex(line[:at], ":"); pwStart >= 0 {
		c.PasswordLen = at - pwStart - 1
	}
	return c
}

// between returns s[i:j], or "" when the bounds are missing or reversed.
func between(s string, i, j int) string {
	if i < 0 || j < 0 || i > j || j > len(s) {
		return ""
	}
	return s[i:j]
}

// TargetState is one file-backed target's directives as read from disk.
type TargetState struct {
	Kind    target.Kind
	Set     bool
	Proxies map[string]string // scheme -> URL with the password redacted
	Err     error
}

// Endpoint returns "host:port" of the first directive, or "".
func (s TargetState) Endpoint() string {
	for _, scheme := range target.Schemes {
		if raw, ok := s.Proxies[scheme]; ok {
			if u, err := url.Parse(raw); err == nil {
				return u.Host
			}
		}
	}
	return ""
}

var (
	aptDirective = regexp.MustCompile(`^\s*Acquire::(\w+)::proxy\s+"([^"]*)"\s*;`)
	envDirective = regexp.MustCompile(`^\s*(?:export\s+)?[A-Za-z]+_proxy=`)
)

// ReadTargets reads back every registered adapter that supports it.
// Command-backed targets are not read.
func ReadTargets(reg *target.Registry) []TargetState {
	var states []TargetState
	for _, kind := range reg.Kinds() {
		a, _ := reg.Get(kind)
		r, ok := a.(target.Reader)
		if !ok {
			continue
		}

		st := TargetState{Kind: kind, Proxies: map[string]string{}}
		lines, err := r.Read()
		if err != nil {
			st.Err = err
			states = append(states, st)
			continue
		}

		if kind == target.KindPackageManager {
			parseAptLines(lines, st.Proxies)
		} else {
			if err := parseEnvLines(lines, st.Proxies); err != nil {
				st.Err = err
			}
		}
		st.Set = len(st.Proxies) > 0
		states = append(states, st)
	}
	return states
}

func parseAptLines(lines []string, out map[string]string) {
	for _, line := range lines {
		m := aptDirective.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out[m[1]] = redact(m[2])
	}
}

// parseEnvLines hands the name="value" directives to godotenv. Other lines
// that merely mention a URL are ignored.
func parseEnvLines(lines []string, out map[string]string) error {
	var directives []string
	for _, line := range lines {
		if envDirective.MatchString(line) {
			directives = append(directives, line)
		}
	}
	env, err := godotenv.Unmarshal(strings.Join(directives, "\n"))
	if err != nil {
		return fmt.Errorf("parsing proxy lines: %w", err)
	}
	for key, val := range env {
		scheme, ok := strings.CutSuffix(strings.ToLower(key), "_proxy")
		if !ok {
			continue
		}
		out[scheme] = redact(val)
	}
	return nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

// Consistent reports whether every set target points at the same host:port.
// It also returns the distinct endpoints seen, sorted.
func Consistent(states []TargetState) (bool, []string) {
	seen := map[string]bool{}
	for _, st := range states {
		if !st.Set {
			continue
		}
		if ep := st.Endpoint(); ep != "" {
			seen[ep] = true
		}
	}
	endpoints := make([]string, 0, len(seen))
	for ep := range seen {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)
	return len(endpoints) <= 1, endpoints
}
