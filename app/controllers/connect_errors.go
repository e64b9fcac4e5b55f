package controllers

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/MarketLink/internal/pkg/oauthstate"
	"github.com/ManuelReschke/MarketLink/internal/pkg/provider"
)

// Error codes carried to the error page. They are the only failure detail a
// browser ever sees.
const (
	CodeMissingParams          = "missing_params"
	CodeInvalidState           = "invalid_state"
	CodeServerMisconfiguration = "server_misconfiguration"
	CodeMissingUserInfo        = "missing_user_info"
	CodeOAuthFailed            = "oauth_failed"

	outcomeConnected = "connected"
)

var (
	ErrAuthenticationRequired = errors.New("connect: authentication required")
	ErrMissingParams          = errors.New("connect: missing callback parameters")
	ErrCsrfValidationFailed   = errors.New("connect: state validation failed")
	ErrProviderDenied         = errors.New("connect: provider reported an error")
)

// errorCode maps a flow failure to its public code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingParams):
		return CodeMissingParams
	case errors.Is(err, ErrCsrfValidationFailed),
		errors.Is(err, oauthstate.ErrStateMissing),
		errors.Is(err, oauthstate.ErrStateExpired),
		errors.Is(err, oauthstate.ErrNothingParked):
		return CodeInvalidState
	case errors.Is(err, provider.ErrConfigMissing):
		return CodeServerMisconfiguration
	case errors.Is(err, provider.ErrIncompleteIdentity):
		return CodeMissingUserInfo
	default:
		return CodeOAuthFailed
	}
}

// errorKind names the failure class for operators.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return "AuthenticationRequired"
	case errorCode(err) == CodeInvalidState:
		return "CsrfValidationFailed"
	case errors.Is(err, ErrMissingParams):
		return "MissingParams"
	case errors.Is(err, provider.ErrConfigMissing):
		return "ProviderConfigMissing"
	case errors.Is(err, provider.ErrIncompleteIdentity):
		return "IncompleteIdentity"
	case errors.Is(err, provider.ErrUpstream):
		return "UpstreamExchangeFailed"
	case errors.Is(err, ErrProviderDenied):
		return "ProviderDenied"
	default:
		return "Internal"
	}
}

func errorRedirect(errorPage, code string) string {
	sep := "?"
	if strings.Contains(errorPage, "?") {
		sep = "&"
	}
	return errorPage + sep + "error=" + code
}
