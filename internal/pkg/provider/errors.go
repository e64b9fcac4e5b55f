package provider

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	opExchange = "exchange"
	opRefresh  = "refresh"
	opIdentify = "identify"

	excerptLimit = 256
)

var (
	ErrUnknownProvider    = errors.New("provider: unknown provider")
	ErrConfigMissing      = errors.New("provider: configuration missing")
	ErrUpstream           = errors.New("provider: upstream request failed")
	ErrIncompleteIdentity = errors.New("provider: incomplete identity")
	ErrNoConsentStep      = errors.New("provider: provider has no consent step")
)

// ConfigMissingError names the environment variables that must be set before
// the provider can be used. The names go to the logs, never to the client.
type ConfigMissingError struct {
	Provider string
	Missing  []string
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("provider %s is not configured: missing %s", e.Provider, strings.Join(e.Missing, ", "))
}

func (e *ConfigMissingError) Is(target error) bool { return target == ErrConfigMissing }

// UpstreamError is a failed call to a marketplace endpoint. StatusCode is 0
// for transport errors and malformed responses.
type UpstreamError struct {
	Provider   string
	Op         string
	StatusCode int
	Excerpt    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status=%d", e.StatusCode)
	}
	if e.Excerpt != "" {
		msg += " body=" + e.Excerpt
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error { return e.Err }

var secretFields = regexp.MustCompile(`(?i)"(access_token|refresh_token|token|id_token|client_secret|code)"\s*:\s*"[^"]*"`)

// excerpt redacts credential-looking JSON fields and truncates the body.
func excerpt(body []byte) string {
	s := secretFields.ReplaceAllString(string(body), `"$1":"[redacted]"`)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > excerptLimit {
		cut := excerptLimit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
