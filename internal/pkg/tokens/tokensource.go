package tokens

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource exposes one connection as an oauth2.TokenSource, so clients
// built on golang.org/x/oauth2 never see the connection store.
func (m *Manager) TokenSource(ctx context.Context, userID uint, providerName string) oauth2.TokenSource {
	return &connectionTokenSource{ctx: ctx, m: m, userID: userID, provider: providerName}
}

type connectionTokenSource struct {
	ctx      context.Context
	m        *Manager
	userID   uint
	provider string
}

func (s *connectionTokenSource) Token() (*oauth2.Token, error) {
	access, err := s.m.GetValidToken(s.ctx, s.userID, s.provider)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: access, TokenType: "Bearer"}, nil
}
