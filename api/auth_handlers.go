package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/ocpanel/bootstrap"
	"github.com/jmcleod/ocpanel/credential"
	"github.com/jmcleod/ocpanel/lockout"
	"github.com/jmcleod/ocpanel/storage"
)

// BootstrapStatus handles GET /auth/bootstrap.
func (a *API) BootstrapStatus(w http.ResponseWriter, r *http.Request) {
	required, err := a.flow.SetupRequired()
	if err != nil {
		a.internalError(w, "bootstrap status", err)
		return
	}
	writeJSON(w, http.StatusOK, BootstrapStatusResponse{SetupRequired: required})
}

// BootstrapSetup handles POST /auth/bootstrap. It creates the admin
// credential and signs the caller in.
func (a *API) BootstrapSetup(w http.ResponseWriter, r *http.Request) {
	clientIP := a.clientIP(r)
	req, ok := decodeJSON[BootstrapRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	token, claims, err := a.flow.Setup(req.Password)
	switch {
	case err == nil:
	case errors.Is(err, bootstrap.ErrAlreadyConfigured):
		a.audit.logFailure(AuditBootstrapRejected, r, clientIP, "already configured")
		mapError(w, err)
		return
	case errors.Is(err, credential.ErrPasswordPolicy):
		mapError(w, err)
		return
	default:
		a.internalError(w, "bootstrap setup", err)
		return
	}

	a.writeSessionCookie(w, r, token)
	a.audit.log(AuditBootstrap, r, clientIP, slog.String("username", claims.Subject))
	writeSuccess(w)
}

// Login handles POST /auth/login.
//
// Order matters: a system that was never set up answers SetupRequired, a
// locked client is refused before any password work, and every wrong
// username or password gets the same response.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	clientIP := a.clientIP(r)

	required, err := a.store.SetupRequired()
	if err != nil {
		a.internalError(w, "login", err)
		return
	}
	if required {
		writeSetupRequired(w)
		return
	}

	attempt, ok := a.beginAttempt(w, r, clientIP)
	if !ok {
		return
	}
	defer attempt.Release()

	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	rec, err := a.store.Credential()
	if err != nil {
		a.internalError(w, "login", err)
		return
	}
	if rec == nil {
		writeSetupRequired(w)
		return
	}

	if !checkCredential(rec, req.Username, req.Password) {
		a.recordAuthFailure(r, clientIP, attempt, AuditLoginFailure, "invalid credentials")
		mapError(w, credential.ErrInvalidCredentials)
		return
	}

	attempt.Succeed()
	a.rehashIfNeeded(r, clientIP, rec, req.Password)

	token, claims, err := bootstrap.IssueSession(a.store, a.codec, rec.Username)
	if err != nil {
		a.internalError(w, "login", err)
		return
	}
	a.writeSessionCookie(w, r, token)
	a.audit.log(AuditLoginSuccess, r, clientIP, slog.String("username", claims.Subject))
	writeSuccess(w)
}

// Logout handles POST /auth/logout. Tokens are stateless, so logout only
// clears the cookie; rotating the secret is the way to revoke a copied token.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	a.clearSessionCookie(w, r)
	a.audit.log(AuditLogout, r, a.clientIP(r), slog.String("username", claims.Subject))
	writeSuccess(w)
}

// ChangePassword handles POST /auth/change-password. A wrong old password
// counts as a failed login for the governor. On success the session cookie
// is cleared and, by default, the signing secret is rotated so every other
// session ends too.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	clientIP := a.clientIP(r)
	claims, _ := ClaimsFromContext(r.Context())

	attempt, ok := a.beginAttempt(w, r, clientIP)
	if !ok {
		return
	}
	defer attempt.Release()

	req, ok := decodeJSON[ChangePasswordRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "oldPassword and newPassword are required")
		return
	}

	rec, err := a.store.Credential()
	if err != nil {
		a.internalError(w, "change password", err)
		return
	}
	if rec == nil {
		writeSetupRequired(w)
		return
	}

	if !credential.Verify(req.OldPassword, rec.PasswordHash) {
		a.recordAuthFailure(r, clientIP, attempt, AuditPasswordChangeFail, "invalid old password",
			slog.String("username", claims.Subject))
		mapError(w, credential.ErrInvalidCredentials)
		return
	}
	if err := credential.ValidatePassword(req.NewPassword); err != nil {
		mapError(w, err)
		return
	}
	if credential.Verify(req.NewPassword, rec.PasswordHash) {
		mapError(w, credential.ErrPasswordUnchanged)
		return
	}

	hash, err := a.hasher.Hash(req.NewPassword)
	if err != nil {
		a.internalError(w, "change password", err)
		return
	}
	err = a.store.UpdatePasswordHash(rec.PasswordHash, hash, a.rotateOnPasswordChange)
	if errors.Is(err, storage.ErrCredentialChanged) {
		mapError(w, err)
		return
	}
	if err != nil {
		a.internalError(w, "change password", err)
		return
	}

	attempt.Succeed()
	a.clearSessionCookie(w, r)
	a.audit.log(AuditPasswordChanged, r, clientIP,
		slog.String("username", claims.Subject),
		slog.Bool("secret_rotated", a.rotateOnPasswordChange))
	writeSuccess(w)
}

// Session handles GET /auth/session.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		mapError(w, errUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Username:  claims.Subject,
		ExpiresAt: claims.Expiry().UTC(),
	})
}

// checkCredential compares the username in constant time and always runs
// the password derivation, so response timing does not reveal which of the
// two was wrong.
func checkCredential(rec *credential.Record, username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(rec.Username)) == 1
	passOK := credential.Verify(password, rec.PasswordHash)
	return userOK && passOK
}

// beginAttempt reserves a password check for clientID with the governor,
// answering 429 when none is available.
func (a *API) beginAttempt(w http.ResponseWriter, r *http.Request, clientIP string) (*lockout.Attempt, bool) {
	attempt, retryAfter, err := a.governor.Begin(clientIP)
	if err != nil {
		a.audit.logFailure(AuditLoginRateLimited, r, clientIP, "locked out",
			slog.Duration("retry_after", retryAfter))
		writeRateLimited(w, retryAfter)
		return nil, false
	}
	return attempt, true
}

// recordAuthFailure feeds the governor and the audit log.
func (a *API) recordAuthFailure(r *http.Request, clientIP string, attempt *lockout.Attempt, event AuditEvent, reason string, extra ...slog.Attr) {
	tripped, retryAfter := attempt.Fail()
	extra = append(extra, slog.Int("failures", a.governor.Failures(clientIP)))
	a.audit.logFailure(event, r, clientIP, reason, extra...)
	if tripped {
		a.audit.log(AuditLockoutTripped, r, clientIP, slog.Duration("locked_for", retryAfter))
	}
}

// rehashIfNeeded upgrades a stored hash made with weaker parameters. It is
// best effort: the login has already succeeded.
func (a *API) rehashIfNeeded(r *http.Request, clientIP string, rec *credential.Record, password string) {
	if !a.hasher.NeedsRehash(rec.PasswordHash) {
		return
	}
	hash, err := a.hasher.Hash(password)
	if err == nil {
		err = a.store.UpdatePasswordHash(rec.PasswordHash, hash, false)
	}
	if err != nil {
		a.logger.Warn("password rehash skipped", "error", err)
		return
	}
	a.audit.log(AuditPasswordRehashed, r, clientIP, slog.Int("iterations", hash.Iterations))
}

// internalError logs err and answers with a generic 500. The process keeps
// serving other requests.
func (a *API) internalError(w http.ResponseWriter, op string, err error) {
	a.logger.Error("request failed", "op", op, "error", err)
	mapError(w, err)
}
