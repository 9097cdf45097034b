// Package ident generates record identifiers.
package ident

import "github.com/google/uuid"

// New returns a globally unique, time-sortable id string. UUIDv7 carries a
// millisecond timestamp prefix; if the v7 source fails we fall back to v4,
// which is still unique, just not sortable.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
