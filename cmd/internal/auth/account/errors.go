package account

import "assist/cmd/internal/apperror"

// Stable error codes.
const (
	CodeInvalidRequest         = "invalid_request"
	CodeInvalidCredentials     = "invalid_credentials"
	CodeInvalidEmail           = "invalid_email"
	CodeInvalidRole            = "invalid_role"
	CodeWeakPassword           = "weak_password"
	CodeEmailInUse             = "email_in_use"
	CodeNotFound               = "not_found"
	CodeNoValidFields          = "no_valid_fields"
	CodeInvalidCurrentPassword = "invalid_current_password"
	CodeSessionInvalid         = "session_invalid"
)

var (
	errInvalidCredentials = apperror.Unauthenticated(CodeInvalidCredentials, "invalid credentials")
	errSessionInvalid     = apperror.Unauthenticated(CodeSessionInvalid, "session no longer valid")
	errEmailInUse         = apperror.Conflict(CodeEmailInUse, "email already registered")
	errNotFound           = apperror.NotFound(CodeNotFound, "user not found")
	errNoValidFields      = apperror.Validation(CodeNoValidFields, "no valid fields to update")
	errWrongCurrent       = apperror.Validation(CodeInvalidCurrentPassword, "current password is incorrect")
)

// Audit action prefixes for the operations a transport may need to audit on its own.
const (
	ActionLogin          = "auth.login"
	ActionRegister       = "auth.register"
	ActionProfileUpdate  = "identity.profile.update"
	ActionPasswordChange = "identity.password.change"
)
