// Package account is the identity service: login, registration, profile, password change,
// token refresh and role administration.
//
// It is transport-agnostic. Every error it returns is an *apperror.Error; raw store and codec
// errors are classified here and never escape. Each mutating call records exactly one audit
// event per outcome.
package account
