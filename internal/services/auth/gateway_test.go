package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

type captureMailer struct {
	codes chan string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{codes: make(chan string, 8)}
}

func (m *captureMailer) Send(_ context.Context, _ string, code string) error {
	m.codes <- code
	return nil
}

func (m *captureMailer) wait(t *testing.T) string {
	t.Helper()
	select {
	case code := <-m.codes:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mailed code")
		return ""
	}
}

type fakeDirectory struct {
	mu       sync.Mutex
	resolved int
}

func (d *fakeDirectory) ResolveOrCreateUser(_ context.Context, email string) (User, error) {
	d.mu.Lock()
	d.resolved++
	d.mu.Unlock()
	return User{ID: "usr_" + email, Email: email, OrgID: "org_" + email}, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGateway(t *testing.T) (*Gateway, *captureMailer, *testClock) {
	t.Helper()
	mailer := newCaptureMailer()
	clock := &testClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	cfg := Config{TokenSecret: "test-secret", MaxAttempts: 3}
	gateway := NewGateway(cfg, mailer, &fakeDirectory{}, clock.Now)
	return gateway, mailer, clock
}

func requestAndWaitCode(t *testing.T, g *Gateway, mailer *captureMailer, email string) string {
	t.Helper()
	if err := g.RequestCode(context.Background(), email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	return mailer.wait(t)
}

func TestRequestCodeDeliversSixDigits(t *testing.T) {
	gateway, mailer, _ := newTestGateway(t)
	code := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric code, got %q", code)
		}
	}
}

func TestRequestCodeRejectsInvalidEmail(t *testing.T) {
	gateway, _, _ := newTestGateway(t)
	if err := gateway.RequestCode(context.Background(), "not-an-email"); !apperrors.IsCode(err, apperrors.CodeAuthInvalidCode) {
		t.Fatalf("expected AUTH_INVALID_CODE, got %v", err)
	}
}

func TestRequestCodeResendCooldown(t *testing.T) {
	gateway, mailer, _ := newTestGateway(t)
	requestAndWaitCode(t, gateway, mailer, "owner@acme.test")

	err := gateway.RequestCode(context.Background(), "owner@acme.test")
	if !apperrors.IsCode(err, apperrors.CodeAuthRateLimited) {
		t.Fatalf("expected AUTH_RATE_LIMITED, got %v", err)
	}
}

func TestVerifyCodeIssuesSession(t *testing.T) {
	gateway, mailer, _ := newTestGateway(t)
	code := requestAndWaitCode(t, gateway, mailer, "Owner@Acme.Test")

	session, err := gateway.VerifyCode(context.Background(), "owner@acme.test", code)
	if err != nil {
		t.Fatalf("verify code: %v", err)
	}
	if session.Token == "" || session.UserID == "" || session.OrgID == "" {
		t.Fatalf("incomplete session: %+v", session)
	}

	identity, err := gateway.Validate(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.UserID != session.UserID || identity.OrgID != session.OrgID {
		t.Fatalf("identity mismatch: %+v vs %+v", identity, session)
	}
}

func TestVerifyCodeIsSingleUse(t *testing.T) {
	gateway, mailer, _ := newTestGateway(t)
	code := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")

	if _, err := gateway.VerifyCode(context.Background(), "owner@acme.test", code); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := gateway.VerifyCode(context.Background(), "owner@acme.test", code); !apperrors.IsCode(err, apperrors.CodeAuthInvalidCode) {
		t.Fatalf("expected AUTH_INVALID_CODE for consumed code, got %v", err)
	}
}

func TestVerifyCodeWrongCode(t *testing.T) {
	gateway, mailer, _ := newTestGateway(t)
	requestAndWaitCode(t, gateway, mailer, "owner@acme.test")

	if _, err := gateway.VerifyCode(context.Background(), "owner@acme.test", "000000"); !apperrors.IsCode(err, apperrors.CodeAuthInvalidCode) {
		t.Fatalf("expected AUTH_INVALID_CODE, got %v", err)
	}
}

func TestVerifyCodeExpires(t *testing.T) {
	gateway, mailer, clock := newTestGateway(t)
	code := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")

	clock.Advance(6 * time.Minute)
	if _, err := gateway.VerifyCode(context.Background(), "owner@acme.test", code); !apperrors.IsCode(err, apperrors.CodeAuthCodeExpired) {
		t.Fatalf("expected AUTH_CODE_EXPIRED, got %v", err)
	}
}

func TestVerifyCodeLocksAfterRepeatedFailures(t *testing.T) {
	gateway, mailer, _ := newTestGateway(t)
	code := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")

	for i := 0; i < 3; i++ {
		if _, err := gateway.VerifyCode(context.Background(), "owner@acme.test", "999999"); !apperrors.IsCode(err, apperrors.CodeAuthInvalidCode) {
			t.Fatalf("attempt %d: expected AUTH_INVALID_CODE, got %v", i, err)
		}
	}

	// The lockout rejects even the correct code until the window passes.
	if _, err := gateway.VerifyCode(context.Background(), "owner@acme.test", code); !apperrors.IsCode(err, apperrors.CodeAuthTooManyAttempts) {
		t.Fatalf("expected AUTH_TOO_MANY_ATTEMPTS, got %v", err)
	}
}

func TestVerifyCodeLockoutWindowPasses(t *testing.T) {
	gateway, mailer, clock := newTestGateway(t)
	code := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")

	for i := 0; i < 3; i++ {
		_, _ = gateway.VerifyCode(context.Background(), "owner@acme.test", "999999")
	}
	clock.Advance(16 * time.Minute)

	// The code itself expired during the lockout, so the correct code now
	// reports expiry rather than a lock.
	if _, err := gateway.VerifyCode(context.Background(), "owner@acme.test", code); !apperrors.IsCode(err, apperrors.CodeAuthCodeExpired) {
		t.Fatalf("expected AUTH_CODE_EXPIRED, got %v", err)
	}
}

func TestLockoutSurvivesCodeReissue(t *testing.T) {
	mailer := newCaptureMailer()
	clock := &testClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	cfg := Config{TokenSecret: "test-secret", MaxAttempts: 3, ResendCooldown: time.Millisecond}
	gateway := NewGateway(cfg, mailer, &fakeDirectory{}, clock.Now)

	code := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")
	for i := 0; i < 3; i++ {
		_, _ = gateway.VerifyCode(context.Background(), "owner@acme.test", "999999")
	}

	// Requesting a fresh code must not reopen verification during the window.
	if err := gateway.RequestCode(context.Background(), "owner@acme.test"); !apperrors.IsCode(err, apperrors.CodeAuthTooManyAttempts) {
		t.Fatalf("expected AUTH_TOO_MANY_ATTEMPTS on reissue, got %v", err)
	}
	if _, err := gateway.VerifyCode(context.Background(), "owner@acme.test", code); !apperrors.IsCode(err, apperrors.CodeAuthTooManyAttempts) {
		t.Fatalf("expected AUTH_TOO_MANY_ATTEMPTS during lockout, got %v", err)
	}

	clock.Advance(16 * time.Minute)
	// The resend limiter runs on wall time, not the test clock.
	time.Sleep(5 * time.Millisecond)
	fresh := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")
	if _, err := gateway.VerifyCode(context.Background(), "owner@acme.test", fresh); err != nil {
		t.Fatalf("verify after lockout window: %v", err)
	}
}

func TestConcurrentVerifySingleWinner(t *testing.T) {
	gateway, mailer, _ := newTestGateway(t)
	code := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = gateway.VerifyCode(context.Background(), "owner@acme.test", code)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestValidateRejectsGarbageToken(t *testing.T) {
	gateway, _, _ := newTestGateway(t)
	if _, err := gateway.Validate(context.Background(), "not-a-token"); !apperrors.IsCode(err, apperrors.CodeAuthSessionUnknown) {
		t.Fatalf("expected AUTH_SESSION_UNKNOWN, got %v", err)
	}
}

func TestValidateRejectsExpiredSession(t *testing.T) {
	gateway, mailer, clock := newTestGateway(t)
	code := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")
	session, err := gateway.VerifyCode(context.Background(), "owner@acme.test", code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	clock.Advance(13 * time.Hour)
	if _, err := gateway.Validate(context.Background(), session.Token); !apperrors.IsCode(err, apperrors.CodeAuthSessionExpired) {
		t.Fatalf("expected AUTH_SESSION_EXPIRED, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	gateway, mailer, _ := newTestGateway(t)
	code := requestAndWaitCode(t, gateway, mailer, "owner@acme.test")
	session, err := gateway.VerifyCode(context.Background(), "owner@acme.test", code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	gateway.Logout(context.Background(), session.Token)
	if _, err := gateway.Validate(context.Background(), session.Token); !apperrors.IsCode(err, apperrors.CodeAuthSessionUnknown) {
		t.Fatalf("expected AUTH_SESSION_UNKNOWN after logout, got %v", err)
	}
	// Logout is idempotent.
	gateway.Logout(context.Background(), session.Token)
}
