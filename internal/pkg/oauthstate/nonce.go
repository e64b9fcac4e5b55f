// Package oauthstate issues and checks the per-attempt values that bind an
// OAuth callback to the browser that started it: the state nonce, the PKCE
// verifier and the cookies that carry them.
package oauthstate

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// nonceBytes gives 256 bits of entropy, 43 characters once encoded.
const nonceBytes = 32

// ChallengeMethod is the only PKCE method we send.
const ChallengeMethod = "S256"

// NewNonce returns a URL-safe random state value.
func NewNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauthstate: generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Validate compares the state echoed by the provider with the stored nonce in
// constant time. Empty values never match.
func Validate(presented, stored string) bool {
	if presented == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}

// NewPKCE returns a fresh RFC 7636 verifier and its S256 challenge.
func NewPKCE() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, Challenge(verifier)
}

// Challenge is base64url(sha256(verifier)) without padding.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
