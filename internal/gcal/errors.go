package gcal

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// AuthRequiredError indicates no stored token exists for the account.
type AuthRequiredError struct {
	Email string
	Cause error
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("auth required for %s", e.Email)
}

func (e *AuthRequiredError) Unwrap() error {
	return e.Cause
}

// VersionMismatchError indicates the remote rejected a write because the
// local etag is stale. Remote carries the service's current copy when it
// could be retrieved.
type VersionMismatchError struct {
	EventID string
	Remote  *RawEvent
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch for event %s", e.EventID)
}

// IsVersionMismatch reports whether err is a write rejection due to a stale
// etag, unwrapping as needed.
func IsVersionMismatch(err error) (*VersionMismatchError, bool) {
	var vm *VersionMismatchError
	if errors.As(err, &vm) {
		return vm, true
	}
	return nil, false
}

// isTokenInvalidated reports whether the service declared the sync token
// expired. The caller recovers by re-issuing a full fetch; this error never
// escapes the package.
func isTokenInvalidated(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusGone
	}
	return false
}

func isConflictStatus(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusConflict || apiErr.Code == http.StatusPreconditionFailed
	}
	return false
}

// isNotFound reports whether the remote event no longer exists. Deleting an
// already-deleted event is treated as success by callers.
func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}
