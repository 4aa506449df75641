package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string used to identify a bridge call.
// ULIDs sort by creation time, so journal listings stay in call order.
func NewID() string {
	return ulid.Make().String()
}
