package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/ocpanel/bootstrap"
	"github.com/jmcleod/ocpanel/credential"
	"github.com/jmcleod/ocpanel/lockout"
	"github.com/jmcleod/ocpanel/session"
	"github.com/jmcleod/ocpanel/storage"
)

// maxAuthBodySize bounds every JSON request body on the auth endpoints.
const maxAuthBodySize = 16 << 10

var (
	errBadRequest      = errors.New("invalid request body")
	errUnauthenticated = errors.New("authentication required")
	errNotConfigured   = errors.New("not available on this server")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// writeRateLimited sends a 429 with both the Retry-After header and the
// remaining wait in the body.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := retryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      lockout.ErrLocked.Error(),
		RetryAfter: secs,
	})
}

func writeSetupRequired(w http.ResponseWriter) {
	writeJSON(w, http.StatusConflict, ErrorResponse{
		Error:         bootstrap.ErrSetupRequired.Error(),
		SetupRequired: true,
	})
}

// retryAfterSeconds rounds up so a client never retries early.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// mapError writes the response for a failed auth operation. Persistence
// failures get a fixed message; the cause is logged by the caller.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credential.ErrPasswordPolicy),
		errors.Is(err, credential.ErrPasswordUnchanged):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, credential.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, credential.ErrInvalidCredentials.Error())
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, errUnauthenticated):
		writeError(w, http.StatusUnauthorized, errUnauthenticated.Error())
	case errors.Is(err, bootstrap.ErrSetupRequired):
		writeSetupRequired(w)
	case errors.Is(err, bootstrap.ErrAlreadyConfigured),
		errors.Is(err, storage.ErrCredentialExists):
		writeError(w, http.StatusConflict, bootstrap.ErrAlreadyConfigured.Error())
	case errors.Is(err, storage.ErrCredentialChanged):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errNotConfigured):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a single JSON object of at most maxSize bytes, rejecting
// unknown fields and trailing data. On failure it writes a 400 and returns
// false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "expected application/json")
		return v, false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return v, false
		}
		writeError(w, http.StatusBadRequest, errBadRequest.Error())
		return v, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, errBadRequest.Error())
		return v, false
	}
	return v, true
}
