package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := MustPayload(CreateWalletRequest{OrgID: "org_1", Alias: "Treasury"})
	env := Envelope{
		ProtocolVersion: Version,
		MessageID:       "msg-42",
		Type:            TypeCreateWallet,
		Payload:         payload,
	}

	data, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ProtocolVersion != env.ProtocolVersion {
		t.Fatalf("expected version %d, got %d", env.ProtocolVersion, decoded.ProtocolVersion)
	}
	if decoded.MessageID != env.MessageID || decoded.Type != env.Type {
		t.Fatalf("envelope fields changed in round-trip: %+v", decoded)
	}

	var req CreateWalletRequest
	if err := UnmarshalPayload(decoded, &req); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if req.OrgID != "org_1" || req.Alias != "Treasury" {
		t.Fatalf("payload changed in round-trip: %+v", req)
	}
}

func TestDecodeVersionMismatch(t *testing.T) {
	data, err := json.Marshal(Envelope{
		ProtocolVersion: Version + 1,
		Type:            TypePing,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	_, err = Decode(data)
	if !apperrors.IsCode(err, apperrors.CodeProtocolVersionMismatch) {
		t.Fatalf("expected PROTOCOL_VERSION_MISMATCH, got %v", err)
	}
	meta := apperrors.GetMetadata(err)
	if meta["server_version"] != "1" {
		t.Fatalf("expected server_version metadata, got %v", meta)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	if !apperrors.IsCode(err, apperrors.CodeProtocolMalformed) {
		t.Fatalf("expected PROTOCOL_MALFORMED, got %v", err)
	}
}

func TestDecodeMissingType(t *testing.T) {
	data, err := json.Marshal(Envelope{ProtocolVersion: Version})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = Decode(data)
	if !apperrors.IsCode(err, apperrors.CodeProtocolMalformed) {
		t.Fatalf("expected PROTOCOL_MALFORMED for missing type, got %v", err)
	}
}

func TestEncodeRequiresType(t *testing.T) {
	_, err := Encode(Envelope{ProtocolVersion: Version})
	if !apperrors.IsCode(err, apperrors.CodeProtocolMalformed) {
		t.Fatalf("expected PROTOCOL_MALFORMED, got %v", err)
	}
}

func TestUnmarshalPayloadErrors(t *testing.T) {
	env := Envelope{ProtocolVersion: Version, Type: TypeAddKey}

	var req AddKeyRequest
	err := UnmarshalPayload(env, &req)
	if !apperrors.IsCode(err, apperrors.CodeProtocolMalformed) {
		t.Fatalf("expected PROTOCOL_MALFORMED for empty payload, got %v", err)
	}

	env.Payload = json.RawMessage(`{"alias": 7}`)
	err = UnmarshalPayload(env, &req)
	if !apperrors.IsCode(err, apperrors.CodeProtocolMalformed) {
		t.Fatalf("expected PROTOCOL_MALFORMED for wrong field type, got %v", err)
	}

	var unwrapped *apperrors.Error
	if !errors.As(err, &unwrapped) || unwrapped.Cause == nil {
		t.Fatal("expected wrapped json cause")
	}
}

func TestBroadcastEnvelopeCarriesNoMessageID(t *testing.T) {
	env := Envelope{
		ProtocolVersion: Version,
		Type:            TypeDelta,
		Payload:         MustPayload(Delta{WalletID: "w1", NewVersion: 3, ChangeKind: ChangeKeyAssigned}),
	}
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["message_id"]; ok {
		t.Fatal("expected message_id to be omitted for broadcast frames")
	}
}
