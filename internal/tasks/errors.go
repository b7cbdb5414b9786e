package tasks

import "errors"

var (
	// not found
	ErrUnknownTask  = errors.New("unknown task")
	ErrUnknownShard = errors.New("unknown shard")

	// precondition
	ErrNotSignPhase               = errors.New("task is not in sign phase")
	ErrNotWritePhase              = errors.New("task is not in write phase")
	ErrNotReadPhase               = errors.New("task is not in read phase")
	ErrUnassignedTask             = errors.New("task is not assigned to a shard")
	ErrTaskSigned                 = errors.New("task already signed")
	ErrBootstrapShardMustBeOnline = errors.New("bootstrap shard must be online")
	ErrMatchingShardNotOnline     = errors.New("no matching shard online")
	ErrGatewayNotRegistered       = errors.New("gateway not registered")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrInsufficientStake          = errors.New("insufficient stake")
	ErrInvalidBatchSize           = errors.New("batch size must be positive")
	ErrInvalidFunder              = errors.New("invalid funder")
	ErrInvalidAmount              = errors.New("amount must be non-negative")

	// authorization
	ErrInvalidSigner = errors.New("caller is not the task signer")
	ErrInvalidOwner  = errors.New("result submitted by a shard that does not own the task")

	// cryptographic
	ErrInvalidSignature            = errors.New("invalid signature")
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
)

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownTask) || errors.Is(err, ErrUnknownShard)
}

// IsAuthorization reports whether err is an authorization error
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrInvalidSigner) || errors.Is(err, ErrInvalidOwner)
}

// IsCryptographic reports whether err is a signature error
func IsCryptographic(err error) bool {
	return errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrSignatureVerificationFailed)
}
