package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

// Version is the protocol version this server speaks. Client and server
// must match exactly; there is no silent downgrade.
const Version uint8 = 1

// Envelope frames every message on the wire, in both directions.
// Broadcast messages carry no MessageID; request and response messages
// correlate through it.
type Envelope struct {
	ProtocolVersion uint8           `json:"protocol_version"`
	MessageID       string          `json:"message_id,omitempty"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Request message types.
const (
	TypeCreateOrg         = "org.create"
	TypeInviteMember      = "org.invite"
	TypeCreateWallet      = "wallet.create"
	TypeDeleteWallet      = "wallet.delete"
	TypeRenameWallet      = "wallet.rename"
	TypeUpdatePolicy      = "wallet.update_policy"
	TypeAddKey            = "wallet.add_key"
	TypeRemoveKey         = "wallet.remove_key"
	TypeAssignKey         = "wallet.assign_key"
	TypeMarkKeyReady      = "wallet.mark_key_ready"
	TypeStatusTransition  = "wallet.transition"
	TypeGetWallet         = "wallet.get"
	TypeListWallets       = "wallet.list"
	TypeSubscribeWallet   = "wallet.subscribe"
	TypeUnsubscribeWallet = "wallet.unsubscribe"
	TypePing              = "ping"
)

// Response and push message types.
const (
	TypeResult = "result"
	TypeError  = "error"
	TypeDelta  = "wallet.delta"
	TypePong   = "pong"
)

// Encode marshals an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	if strings.TrimSpace(env.Type) == "" {
		return nil, apperrors.New(apperrors.CodeProtocolMalformed, "message type is required")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProtocolMalformed, "encode envelope", err)
	}
	return data, nil
}

// Decode parses an envelope off the wire and enforces the exact protocol
// version match. A version mismatch is fatal to the connection; the caller
// must close it after reporting the error.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, apperrors.Wrap(apperrors.CodeProtocolMalformed, "decode envelope", err)
	}
	if env.ProtocolVersion != Version {
		return Envelope{}, apperrors.WithMetadata(
			apperrors.CodeProtocolVersionMismatch,
			fmt.Sprintf("protocol version %d is not supported", env.ProtocolVersion),
			map[string]string{
				"client_version": fmt.Sprintf("%d", env.ProtocolVersion),
				"server_version": fmt.Sprintf("%d", Version),
			},
		)
	}
	if strings.TrimSpace(env.Type) == "" {
		return Envelope{}, apperrors.New(apperrors.CodeProtocolMalformed, "message type is required")
	}
	return env, nil
}

// UnmarshalPayload decodes the payload of a known message type.
// Failures are reported back to the requester without closing the connection.
func UnmarshalPayload(env Envelope, target any) error {
	if len(env.Payload) == 0 {
		return apperrors.New(apperrors.CodeProtocolMalformed, fmt.Sprintf("payload is required for %s", env.Type))
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return apperrors.Wrap(apperrors.CodeProtocolMalformed, fmt.Sprintf("invalid payload for %s", env.Type), err)
	}
	return nil
}

// MustPayload marshals a payload for an outbound envelope.
// Marshal failures indicate a server-side bug; the frame is dropped and logged
// by the transport rather than crashing the connection handler.
func MustPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
