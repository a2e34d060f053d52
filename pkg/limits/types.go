package limits

// Resource is a countable organization resource.
type Resource string

// Feature is a capability a plan switches on.
type Feature string

// Unlimited is the cap of a resource with no limit.
const Unlimited int64 = -1

// UsageInfo is a resource's current usage against its cap. Counted is false
// when no counter is registered and Current is unknown.
type UsageInfo struct {
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"`
	Counted bool  `json:"counted"`
}

// Remaining is how many more can be created, or Unlimited.
func (u UsageInfo) Remaining() int64 {
	if u.Limit == Unlimited {
		return Unlimited
	}
	return max(u.Limit-u.Current, 0)
}
