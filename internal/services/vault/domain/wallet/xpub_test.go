package wallet

import (
	"strings"
	"testing"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

const validXPub = "xpub6CUGRUonZSQ4TWtTMmzXdrXDtypWKiKrhko4egpiMZbpiaQL2jkwSB1icqYh2cfDfVxdx4df189oLKnC5fSwqPfgyP3hooxujYzAu3fDVmz"

func TestSyntaxValidatorAcceptsWellFormedKeys(t *testing.T) {
	v := SyntaxValidator{}
	if err := v.ValidateXPub(validXPub); err != nil {
		t.Fatalf("validate xpub: %v", err)
	}
	if err := v.ValidateXPub("tpub" + validXPub[4:]); err != nil {
		t.Fatalf("validate tpub: %v", err)
	}
}

func TestSyntaxValidatorRejectsEmpty(t *testing.T) {
	if err := (SyntaxValidator{}).ValidateXPub("   "); !apperrors.IsCode(err, apperrors.CodeKeyInvalidXPub) {
		t.Fatalf("expected KEY_INVALID_XPUB, got %v", err)
	}
}

func TestSyntaxValidatorRejectsUnknownPrefix(t *testing.T) {
	if err := (SyntaxValidator{}).ValidateXPub("abcd" + validXPub[4:]); !apperrors.IsCode(err, apperrors.CodeKeyInvalidXPub) {
		t.Fatalf("expected KEY_INVALID_XPUB, got %v", err)
	}
}

func TestSyntaxValidatorRejectsImplausibleLength(t *testing.T) {
	if err := (SyntaxValidator{}).ValidateXPub("xpub123"); !apperrors.IsCode(err, apperrors.CodeKeyInvalidXPub) {
		t.Fatalf("expected KEY_INVALID_XPUB for short key, got %v", err)
	}
	long := "xpub" + strings.Repeat("A", 130)
	if err := (SyntaxValidator{}).ValidateXPub(long); !apperrors.IsCode(err, apperrors.CodeKeyInvalidXPub) {
		t.Fatalf("expected KEY_INVALID_XPUB for long key, got %v", err)
	}
}

func TestSyntaxValidatorRejectsNonBase58Characters(t *testing.T) {
	// 0, O, I, and l are excluded from the base58 alphabet.
	bad := validXPub[:len(validXPub)-1] + "0"
	if err := (SyntaxValidator{}).ValidateXPub(bad); !apperrors.IsCode(err, apperrors.CodeKeyInvalidXPub) {
		t.Fatalf("expected KEY_INVALID_XPUB, got %v", err)
	}
}

func TestParseKeyType(t *testing.T) {
	for _, kt := range []KeyType{KeyTypeHardware, KeyTypeHot} {
		parsed, err := ParseKeyType(kt.String())
		if err != nil {
			t.Fatalf("parse %s: %v", kt, err)
		}
		if parsed != kt {
			t.Fatalf("expected %s, got %s", kt, parsed)
		}
	}
	if _, err := ParseKeyType("paper"); !apperrors.IsCode(err, apperrors.CodeKeyInvalidType) {
		t.Fatalf("expected KEY_INVALID_TYPE, got %v", err)
	}
}

func TestKeyAssigned(t *testing.T) {
	key := Key{ID: "a"}
	if key.Assigned() {
		t.Fatal("expected unassigned key")
	}
	key.ParticipantEmail = "alice@acme.test"
	if key.Assigned() {
		t.Fatal("expected key without xpub to be unassigned")
	}
	key.XPub = validXPub
	if !key.Assigned() {
		t.Fatal("expected assigned key")
	}
}
