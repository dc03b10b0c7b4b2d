// Package domain contains the entities shared by the outreach queue modules.
package domain

import "errors"

// ErrStorageUnavailable is wrapped around any persistence failure that
// forces an operation to fail closed.
var ErrStorageUnavailable = errors.New("storage unavailable")
