package limits

import "errors"

var (
	ErrLimitExceeded              = errors.New("plan limit exceeded")
	ErrNoCounterRegistered        = errors.New("no usage counter registered for resource")
	ErrFailedToCountResourceUsage = errors.New("failed to count resource usage")
	ErrDowngradeNotPossible       = errors.New("current usage does not fit the target plan")
)
