package auth

import (
	"context"
	"crypto/rand"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

// User is the identity record resolved by the directory.
type User struct {
	ID    string
	Email string
	OrgID string
}

// Directory resolves an email to a user, creating the user and their default
// organization on first successful signup.
type Directory interface {
	ResolveOrCreateUser(ctx context.Context, email string) (User, error)
}

// Identity is the authenticated principal bound to a validated session.
type Identity struct {
	UserID string
	Email  string
	OrgID  string
}

type codeEntry struct {
	code      string
	expiresAt time.Time
}

// lockState tracks failed verification attempts per email. It lives outside
// the code entry so requesting a fresh code never resets the counter or an
// active lockout window.
type lockState struct {
	attempts    int
	lockedUntil time.Time
}

// Gateway issues one-time codes and session tokens.
//
// Code and session state is guarded by a single mutex so concurrent
// verification attempts for the same email have exactly one winner.
type Gateway struct {
	cfg       Config
	mailer    Mailer
	directory Directory
	now       func() time.Time

	mu       sync.Mutex
	codes    map[string]*codeEntry
	locks    map[string]*lockState
	resend   map[string]*rate.Limiter
	sessions map[string]Session
}

// NewGateway builds a gateway. A nil mailer falls back to LogMailer and a nil
// now falls back to time.Now.
func NewGateway(cfg Config, mailer Mailer, directory Directory, now func() time.Time) *Gateway {
	if mailer == nil {
		mailer = LogMailer{}
	}
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		cfg:       cfg.withDefaults(),
		mailer:    mailer,
		directory: directory,
		now:       now,
		codes:     make(map[string]*codeEntry),
		locks:     make(map[string]*lockState),
		resend:    make(map[string]*rate.Limiter),
		sessions:  make(map[string]Session),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RequestCode generates a one-time code for the email and hands it to the
// mailer off the caller's path. Resends inside the cooldown window fail with
// AUTH_RATE_LIMITED; a locked email is refused outright so a fresh code never
// shortcuts the lockout window.
func (g *Gateway) RequestCode(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return apperrors.New(apperrors.CodeAuthInvalidCode, "a valid email is required")
	}

	g.mu.Lock()
	if g.lockedLocked(email, g.now()) {
		g.mu.Unlock()
		return apperrors.New(apperrors.CodeAuthTooManyAttempts, "too many failed attempts")
	}
	limiter, ok := g.resend[email]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(g.cfg.ResendCooldown), 1)
		g.resend[email] = limiter
	}
	if !limiter.Allow() {
		g.mu.Unlock()
		return apperrors.New(apperrors.CodeAuthRateLimited, "code was requested too recently")
	}

	code, err := generateCode(g.cfg.CodeLength)
	if err != nil {
		g.mu.Unlock()
		return apperrors.Wrap(apperrors.CodeInternal, "generate login code", err)
	}
	g.codes[email] = &codeEntry{
		code:      code,
		expiresAt: g.now().Add(g.cfg.CodeTTL),
	}
	g.mu.Unlock()

	// The mailer call must never block other connections.
	go func() {
		if err := g.mailer.Send(context.WithoutCancel(ctx), email, code); err != nil {
			log.Printf("auth: send code to %s: %v", email, err)
		}
	}()
	return nil
}

// VerifyCode consumes a matching, non-expired code and issues a session bound
// to the resolved user and their default org context. Repeated failures lock
// the email for the configured window.
func (g *Gateway) VerifyCode(ctx context.Context, email, code string) (Session, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)

	g.mu.Lock()
	now := g.now()
	if g.lockedLocked(email, now) {
		g.mu.Unlock()
		return Session{}, apperrors.New(apperrors.CodeAuthTooManyAttempts, "too many failed attempts")
	}
	entry, ok := g.codes[email]
	if !ok {
		g.mu.Unlock()
		return Session{}, apperrors.New(apperrors.CodeAuthInvalidCode, "no pending code for email")
	}
	if now.After(entry.expiresAt) {
		delete(g.codes, email)
		g.mu.Unlock()
		return Session{}, apperrors.New(apperrors.CodeAuthCodeExpired, "login code expired")
	}
	if code == "" || entry.code != code {
		st := g.locks[email]
		if st == nil {
			st = &lockState{}
			g.locks[email] = st
		}
		st.attempts++
		if st.attempts >= g.cfg.MaxAttempts {
			st.lockedUntil = now.Add(g.cfg.LockoutWindow)
			st.attempts = 0
		}
		g.mu.Unlock()
		return Session{}, apperrors.New(apperrors.CodeAuthInvalidCode, "login code does not match")
	}
	// Single winner consumes the code before the lock is released.
	delete(g.codes, email)
	delete(g.locks, email)
	g.mu.Unlock()

	user, err := g.directory.ResolveOrCreateUser(ctx, email)
	if err != nil {
		return Session{}, err
	}

	session, err := g.issueSession(user)
	if err != nil {
		return Session{}, err
	}
	g.mu.Lock()
	g.sessions[session.ID] = session
	g.mu.Unlock()
	return session, nil
}

// Validate returns the identity bound to a session token.
func (g *Gateway) Validate(_ context.Context, token string) (Identity, error) {
	claims, err := g.parseToken(token)
	if err != nil {
		return Identity{}, err
	}

	g.mu.Lock()
	session, ok := g.sessions[claims.ID]
	if ok && g.now().After(session.ExpiresAt) {
		delete(g.sessions, claims.ID)
		ok = false
		err = apperrors.New(apperrors.CodeAuthSessionExpired, "session expired")
	}
	g.mu.Unlock()

	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{}, apperrors.New(apperrors.CodeAuthSessionUnknown, "session is not known")
	}
	return Identity{UserID: session.UserID, Email: session.Email, OrgID: session.OrgID}, nil
}

// Logout destroys the session bound to the token. Unknown tokens are a no-op
// so logout is idempotent.
func (g *Gateway) Logout(_ context.Context, token string) {
	claims, err := g.parseToken(token)
	if err != nil {
		return
	}
	g.mu.Lock()
	delete(g.sessions, claims.ID)
	g.mu.Unlock()
}

// lockedLocked reports whether the email sits inside its lockout window. An
// expired window clears the failure state. Callers hold g.mu.
func (g *Gateway) lockedLocked(email string, now time.Time) bool {
	st, ok := g.locks[email]
	if !ok || st.lockedUntil.IsZero() {
		return false
	}
	if !now.Before(st.lockedUntil) {
		delete(g.locks, email)
		return false
	}
	return true
}

func generateCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
