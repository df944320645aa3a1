package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
	"github.com/covaulthq/covault/internal/platform/id"
)

// Session is the authenticated, time-bounded binding of a token to an
// identity. The token is a signed JWT, but sessions are also tracked
// server-side so logout revokes them before their hard expiry.
type Session struct {
	ID        string
	Token     string
	UserID    string
	Email     string
	OrgID     string
	ExpiresAt time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	OrgID string `json:"org_id"`
}

func (g *Gateway) signingSecret() []byte {
	return []byte(g.cfg.TokenSecret)
}

func (g *Gateway) issueSession(user User) (Session, error) {
	now := g.now()
	expiresAt := now.Add(g.cfg.SessionTTL)
	sessionID := "ses_" + id.MustNewID()

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: user.Email,
		OrgID: user.OrgID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.signingSecret())
	if err != nil {
		return Session{}, apperrors.Wrap(apperrors.CodeInternal, "sign session token", err)
	}
	return Session{
		ID:        sessionID,
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		OrgID:     user.OrgID,
		ExpiresAt: expiresAt,
	}, nil
}

func (g *Gateway) parseToken(token string) (sessionClaims, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return g.signingSecret(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return sessionClaims{}, apperrors.Wrap(apperrors.CodeAuthSessionExpired, "session expired", err)
		}
		return sessionClaims{}, apperrors.Wrap(apperrors.CodeAuthSessionUnknown, "session token is not valid", err)
	}
	return claims, nil
}
