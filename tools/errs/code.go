package errs

// Error classes. Validation/permission/not-found are surfaced to the caller
// and never retried; transient store failures are retried by background
// writers; provider failures are logged and never reach the chat client.
const (
	CodeNotFound         = 40400
	CodeValidationFailed = 40000
	CodePermissionDenied = 40300
	CodeTransientStore   = 50300
	CodeProviderFailure  = 50201
)

var (
	ErrNotFound         = NewCodeError(CodeNotFound, "not found")
	ErrValidationFailed = NewCodeError(CodeValidationFailed, "validation failed")
	ErrPermissionDenied = NewCodeError(CodePermissionDenied, "permission denied")
	ErrTransientStore   = NewCodeError(CodeTransientStore, "transient store failure")
	ErrProviderFailure  = NewCodeError(CodeProviderFailure, "provider failure")
)

func IsNotFound(err error) bool         { return CodeOf(err) == CodeNotFound }
func IsValidationFailed(err error) bool { return CodeOf(err) == CodeValidationFailed }
func IsPermissionDenied(err error) bool { return CodeOf(err) == CodePermissionDenied }
func IsTransient(err error) bool        { return CodeOf(err) == CodeTransientStore }
func IsProviderFailure(err error) bool  { return CodeOf(err) == CodeProviderFailure }
