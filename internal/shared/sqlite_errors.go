// Package shared holds small cross-cutting helpers.
package shared

import (
	"strings"

	"github.com/containerd/errdefs"
)

// IsSQLiteBusy reports whether err is a SQLITE_BUSY or "database is
// locked" error. Both indicate a transient lock conflict that warrants a
// retry rather than failure.
func IsSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsRetryable reports whether an error is worth retrying: SQLite lock
// conflicts and errors classified as unavailable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusy(err) || errdefs.IsUnavailable(err)
}
