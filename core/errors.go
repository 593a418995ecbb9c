package core

import "errors"

var (
	ErrMissingField         = errors.New("missing required field")
	ErrBadSignature         = errors.New("bad signature")
	ErrAssociationExpired   = errors.New("association has expired")
	ErrNonceMissing         = errors.New("nonce missing from response")
	ErrNonceMismatch        = errors.New("nonce does not match request")
	ErrNonceUsed            = errors.New("nonce already used")
	ErrIdentityMismatch     = errors.New("server identity mismatch")
	ErrInvalidToken         = errors.New("invalid request token")
	ErrTokenExpired         = errors.New("request token has expired")
	ErrUnsupportedAssocType = errors.New("unsupported association type")
	ErrUnsupportedSession   = errors.New("unsupported session type")
	ErrUntrustedReturnTo    = errors.New("return_to is not under trust_root")
	ErrStoreFailed          = errors.New("store operation failed")
	ErrFetchFailed          = errors.New("fetch failed")
)
