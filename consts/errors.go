package consts

import "errors"

var (
	ErrConfigInvalid    = errors.New("configuration invalid")
	ErrNoRecipientFound = errors.New("no recipient address in own domains")
	ErrMalformedHeaders = errors.New("malformed message headers")

	ErrAuditWriteFailed = errors.New("audit write failed")
)
