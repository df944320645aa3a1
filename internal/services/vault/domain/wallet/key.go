package wallet

import (
	"strings"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

// KeyType describes where a key's private material lives.
type KeyType int

const (
	// KeyTypeUnspecified represents an invalid key type value.
	KeyTypeUnspecified KeyType = iota
	// KeyTypeHardware indicates a key held on a signing device.
	KeyTypeHardware
	// KeyTypeHot indicates a software key.
	KeyTypeHot
)

// String returns the wire name of the key type.
func (k KeyType) String() string {
	switch k {
	case KeyTypeHardware:
		return "hardware"
	case KeyTypeHot:
		return "hot"
	}
	return "unspecified"
}

// ParseKeyType resolves a wire key type name.
func ParseKeyType(value string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "hardware":
		return KeyTypeHardware, nil
	case "hot":
		return KeyTypeHot, nil
	}
	return KeyTypeUnspecified, apperrors.WithMetadata(apperrors.CodeKeyInvalidType, "unknown key type", map[string]string{"key_type": value})
}

// Key is a named, typed reference to an extended public key. Key material is
// opaque at this layer; the xpub is only checked for syntactic well-formedness.
// A key is assigned once it carries a participant email and an xpub; Ready is
// set by external device-registration tooling through the mark-ready action.
type Key struct {
	ID               string
	Alias            string
	Description      string
	ParticipantEmail string
	Type             KeyType
	XPub             string
	Ready            bool
}

// Assigned reports whether the key has been bound to a participant and an xpub.
func (k Key) Assigned() bool {
	return strings.TrimSpace(k.ParticipantEmail) != "" && strings.TrimSpace(k.XPub) != ""
}
