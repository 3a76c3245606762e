// Package requestid generates the correlation IDs tagged onto
// connections (and, through logging, their requests) for log
// correlation, using github.com/google/uuid.
package requestid

import "github.com/google/uuid"

// New returns a fresh random (v4) ID string.
func New() string {
	return uuid.NewString()
}
