package consts

const (
	DefaultMailbox        = "INBOX"
	DefaultVerifiedFolder = "Verified"
	DefaultFailedFolder   = "Failed Validation"
)
