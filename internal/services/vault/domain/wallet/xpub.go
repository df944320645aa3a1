package wallet

import (
	"strings"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

// XPubValidator checks extended public keys for syntactic well-formedness.
// Key material is opaque to this layer; full descriptor semantics belong to
// the wallet daemon behind this interface.
type XPubValidator interface {
	ValidateXPub(xpub string) error
}

// SyntaxValidator is the default XPubValidator. It accepts base58-encoded
// extended keys with a known network prefix and plausible length, without
// verifying the checksum or curve point.
type SyntaxValidator struct{}

var xpubPrefixes = []string{"xpub", "tpub", "ypub", "zpub", "vpub", "upub"}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidateXPub implements XPubValidator.
func (SyntaxValidator) ValidateXPub(xpub string) error {
	trimmed := strings.TrimSpace(xpub)
	if trimmed == "" {
		return apperrors.New(apperrors.CodeKeyInvalidXPub, "extended public key is required")
	}

	known := false
	for _, prefix := range xpubPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			known = true
			break
		}
	}
	if !known {
		return apperrors.WithMetadata(apperrors.CodeKeyInvalidXPub, "extended public key has an unknown prefix", map[string]string{"xpub": truncateForMetadata(trimmed)})
	}

	// Serialized extended keys are 111-112 base58 characters.
	if len(trimmed) < 100 || len(trimmed) > 120 {
		return apperrors.New(apperrors.CodeKeyInvalidXPub, "extended public key has an implausible length")
	}
	for _, r := range trimmed {
		if !strings.ContainsRune(base58Alphabet, r) {
			return apperrors.New(apperrors.CodeKeyInvalidXPub, "extended public key contains non-base58 characters")
		}
	}
	return nil
}

func truncateForMetadata(value string) string {
	if len(value) <= 12 {
		return value
	}
	return value[:12] + "..."
}
