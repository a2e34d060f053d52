package limits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CounterFunc returns an organization's current usage of one resource. It
// runs on every capacity check, so it should be a cheap aggregate.
type CounterFunc func(ctx context.Context, orgID uuid.UUID) (int64, error)

// CounterRegistry maps resources to their counters. It is not safe for
// concurrent writes; register everything at startup.
type CounterRegistry map[Resource]CounterFunc

func NewRegistry() CounterRegistry {
	return make(CounterRegistry)
}

// Register sets the counter for res. It panics on a nil counter.
func (r CounterRegistry) Register(res Resource, fn CounterFunc) {
	if fn == nil {
		panic(fmt.Sprintf("limits: nil counter for resource %q", res))
	}
	r[res] = fn
}
