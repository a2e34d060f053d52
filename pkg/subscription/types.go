package subscription

import (
	"fmt"

	"github.com/egglogu/billing/pkg/limits"
)

// Status is the persisted lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// BillingInterval is the billing frequency chosen at checkout.
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// ParseInterval validates a client-supplied interval.
func ParseInterval(s string) (BillingInterval, error) {
	switch BillingInterval(s) {
	case IntervalMonth, IntervalYear:
		return BillingInterval(s), nil
	default:
		return "", fmt.Errorf("%w: unknown billing interval %q", ErrInvalidPlan, s)
	}
}

// Resource is a countable tenant resource limited per plan.
type Resource = limits.Resource

const (
	ResourceFarms  Resource = "farms"
	ResourceFlocks Resource = "flocks"
	ResourceUsers  Resource = "users"
)

// Feature is a plan-gated capability.
type Feature = limits.Feature

const (
	FeatureHealth        Feature = "health"
	FeatureFCR           Feature = "fcr"
	FeatureFinance       Feature = "finance"
	FeatureBiosecurity   Feature = "biosecurity"
	FeatureTraceability  Feature = "traceability"
	FeaturePlanning      Feature = "planning"
	FeatureAIPredictions Feature = "ai_predictions"
	FeatureFieldMode     Feature = "field_mode"
	FeatureVetMode       Feature = "vet_mode"
	FeatureIoT           Feature = "iot"
	FeatureI18n          Feature = "i18n"
	FeatureOffline       Feature = "offline"
	FeatureDarkMode      Feature = "dark_mode"
)

// Module is a top-level application area a plan unlocks.
type Module string

const (
	ModuleDashboard    Module = "dashboard"
	ModuleProduction   Module = "production"
	ModuleHealth       Module = "health"
	ModuleFeed         Module = "feed"
	ModuleClients      Module = "clients"
	ModuleFinance      Module = "finance"
	ModuleEnvironment  Module = "environment"
	ModuleOperations   Module = "operations"
	ModuleBiosecurity  Module = "biosecurity"
	ModuleTraceability Module = "traceability"
	ModulePlanning     Module = "planning"
	ModuleIoT          Module = "iot"
)

// Unlimited marks a resource without a cap (-1 keeps it SQL friendly).
const Unlimited = limits.Unlimited

// Money is an amount in the smallest currency unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}
