// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Auth errors
	CodeAuthInvalidCode     Code = "AUTH_INVALID_CODE"
	CodeAuthCodeExpired     Code = "AUTH_CODE_EXPIRED"
	CodeAuthRateLimited     Code = "AUTH_RATE_LIMITED"
	CodeAuthTooManyAttempts Code = "AUTH_TOO_MANY_ATTEMPTS"
	CodeAuthSessionExpired  Code = "AUTH_SESSION_EXPIRED"
	CodeAuthSessionUnknown  Code = "AUTH_SESSION_UNKNOWN"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"

	// Protocol errors
	CodeProtocolVersionMismatch Code = "PROTOCOL_VERSION_MISMATCH"
	CodeProtocolMalformed       Code = "PROTOCOL_MALFORMED"

	// Permission errors
	CodeForbidden Code = "FORBIDDEN"

	// Validation errors
	CodeWalletAliasEmpty            Code = "WALLET_ALIAS_EMPTY"
	CodeWalletInvalidStatusChange   Code = "WALLET_INVALID_STATUS_TRANSITION"
	CodeWalletNotDraft              Code = "WALLET_NOT_DRAFT"
	CodePolicyEmpty                 Code = "POLICY_EMPTY"
	CodePolicyThresholdExceedsKeys  Code = "POLICY_THRESHOLD_EXCEEDS_KEYS"
	CodePolicyTimelockNotIncreasing Code = "POLICY_TIMELOCK_NOT_INCREASING"
	CodePolicyIncomplete            Code = "POLICY_INCOMPLETE"
	CodePolicyUnknownKey            Code = "POLICY_UNKNOWN_KEY"
	CodeKeyAliasEmpty               Code = "KEY_ALIAS_EMPTY"
	CodeKeyDuplicateAssignment      Code = "KEY_DUPLICATE_ASSIGNMENT"
	CodeKeyInvalidXPub              Code = "KEY_INVALID_XPUB"
	CodeKeyInvalidType              Code = "KEY_INVALID_TYPE"
	CodeKeyNotReady                 Code = "KEY_NOT_READY"
	CodeKeyInUse                    Code = "KEY_IN_USE"
	CodeOrgNameEmpty                Code = "ORG_NAME_EMPTY"
	CodeMemberInvalidRole           Code = "MEMBER_INVALID_ROLE"

	// Conflict errors
	CodeConflictStaleVersion Code = "CONFLICT_STALE_VERSION"

	// Connection errors
	CodeConnClosed        Code = "CONN_CLOSED"
	CodeConnTimeout       Code = "CONN_TIMEOUT"
	CodeConnQueueOverflow Code = "CONN_QUEUE_OVERFLOW"
	CodeConnRateLimited   Code = "CONN_RATE_LIMITED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Internal errors
	CodeInternal Code = "INTERNAL"
)

// WireCategory is the coarse error category reported on the protocol surface.
type WireCategory string

const (
	WireAuth       WireCategory = "auth"
	WireProtocol   WireCategory = "protocol"
	WirePermission WireCategory = "permission"
	WireValidation WireCategory = "validation"
	WireConflict   WireCategory = "conflict"
	WireConnection WireCategory = "connection"
	WireNotFound   WireCategory = "not_found"
	WireInternal   WireCategory = "internal"
)

// WireCategory maps a code to its protocol-level error category.
func (c Code) WireCategory() WireCategory {
	switch c {
	case CodeAuthInvalidCode,
		CodeAuthCodeExpired,
		CodeAuthRateLimited,
		CodeAuthTooManyAttempts,
		CodeAuthSessionExpired,
		CodeAuthSessionUnknown,
		CodeUnauthenticated:
		return WireAuth

	case CodeProtocolVersionMismatch,
		CodeProtocolMalformed:
		return WireProtocol

	case CodeForbidden:
		return WirePermission

	case CodeWalletAliasEmpty,
		CodeWalletInvalidStatusChange,
		CodeWalletNotDraft,
		CodePolicyEmpty,
		CodePolicyThresholdExceedsKeys,
		CodePolicyTimelockNotIncreasing,
		CodePolicyIncomplete,
		CodePolicyUnknownKey,
		CodeKeyAliasEmpty,
		CodeKeyDuplicateAssignment,
		CodeKeyInvalidXPub,
		CodeKeyInvalidType,
		CodeKeyNotReady,
		CodeKeyInUse,
		CodeOrgNameEmpty,
		CodeMemberInvalidRole:
		return WireValidation

	case CodeConflictStaleVersion:
		return WireConflict

	case CodeConnClosed,
		CodeConnTimeout,
		CodeConnQueueOverflow,
		CodeConnRateLimited:
		return WireConnection

	case CodeNotFound:
		return WireNotFound
	}
	return WireInternal
}

// HTTPStatus maps a code to the status used by the HTTP auth surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthInvalidCode, CodeAuthCodeExpired:
		return http.StatusUnauthorized
	case CodeAuthSessionExpired, CodeAuthSessionUnknown, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeAuthRateLimited, CodeAuthTooManyAttempts:
		return http.StatusTooManyRequests
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflictStaleVersion:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeProtocolVersionMismatch, CodeProtocolMalformed:
		return http.StatusBadRequest
	}
	switch c.WireCategory() {
	case WireValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
