package queue

import (
	"fmt"
	"strings"
)

// taskName derives a handler key from a payload's Go type, e.g.
// "subscription.SyncDiscountTask".
func taskName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
