package stomp

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// newID returns a prefixed ULID string. ULIDs are lexicographically
// sortable, which keeps broker-side logs readable when debugging
// subscription churn.
func newID(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}
