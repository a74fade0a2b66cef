package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as an entry identifier.
// ULIDs sort lexicographically by creation time.
func NewID() string {
	return ulid.Make().String()
}
