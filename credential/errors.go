package credential

import "errors"

var (
	// ErrPasswordPolicy indicates a new password does not satisfy the policy.
	ErrPasswordPolicy = errors.New("password does not meet policy")
	// ErrPasswordUnchanged indicates a password change reused the current password.
	ErrPasswordUnchanged = errors.New("new password must differ from the current password")
	// ErrInvalidCredentials is the single outcome for a wrong username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
