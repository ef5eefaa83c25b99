package interfaces

import "errors"

var (
	// ErrCapabilityNotFound means the caller holds no capability token for
	// the policy it tried to mutate. Not retryable without a new capability.
	ErrCapabilityNotFound = errors.New("capability not found for policy")

	// ErrInvalidAddress is a local validation failure; it never reaches the
	// network.
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrEncryptionUnavailable means the threshold-encryption engine was
	// never initialized or a configured key server is unreachable. Callers
	// may choose the plaintext degraded mode explicitly, never silently.
	ErrEncryptionUnavailable = errors.New("encryption engine unavailable")

	// ErrUploadStepFailed wraps a failure of any of the
	// encode/register/upload/certify steps. The whole upload must be
	// retried from the first step.
	ErrUploadStepFailed = errors.New("blob upload step failed")

	// ErrNoAccess means the key servers or the policy rejected the session
	// credential's address for the requested identifiers.
	ErrNoAccess = errors.New("no access to decryption keys")

	// ErrCiphertextUnavailable means no mirror served the blob. Retryable;
	// a different mirror is selected at random per attempt.
	ErrCiphertextUnavailable = errors.New("ciphertext unavailable from all mirrors")

	// ErrCredentialExpired covers both an expired credential and one bound
	// to a different wallet address. The session manager regenerates on it
	// rather than surfacing it, unless regeneration itself fails.
	ErrCredentialExpired = errors.New("session credential expired or address mismatch")

	// ErrPolicyCreationFailed means a creation transaction executed but its
	// effects contained neither a created nor a mutated shared policy
	// object.
	ErrPolicyCreationFailed = errors.New("policy creation produced no policy object")
)
