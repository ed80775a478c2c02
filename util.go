package connector

import (
	"strconv"

	uuid "github.com/satori/go.uuid"
)

func itoa(n int) string { return strconv.Itoa(n) }

// NewID returns a freshly generated 128-bit opaque identifier (a UUIDv4 in
// its canonical hyphenated string form), used for both message_id (per
// publish) and service_id (once per process).
func NewID() string {
	return uuid.NewV4().String()
}
