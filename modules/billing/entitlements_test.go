package billing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egglogu/billing/modules/billing"
	"github.com/egglogu/billing/pkg/auth"
	"github.com/egglogu/billing/pkg/subscription"
)

func TestEntitlements(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	verifier, err := auth.NewVerifier(auth.Config{SecretKey: testSecret})
	require.NoError(t, err)
	ent := billing.NewEntitlements(f.svc, discardLogger())

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r := chi.NewRouter()
	r.Use(auth.Middleware(verifier))
	r.With(ent.RequireModule(subscription.ModuleIoT)).Get("/iot", ok)
	r.With(ent.RequireFeature(subscription.FeatureFinance)).Get("/finance", ok)

	get := func(path, bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+bearer)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	pro := token(t, f.seedPaid(t, "pro", subscription.IntervalMonth), auth.RoleOwner)
	hobby := token(t, f.seedPaid(t, "hobby", subscription.IntervalMonth), auth.RoleOwner)
	trial := token(t, f.seedTrial(t), auth.RoleOwner)

	suspendedOrg := f.seedPaid(t, "enterprise", subscription.IntervalYear)
	_, _, err = f.store.Update(context.Background(), subscription.ByOrganization(suspendedOrg), "", func(s *subscription.Subscription) subscription.Transition {
		return s.Cancel(f.now)
	})
	require.NoError(t, err)
	suspended := token(t, suspendedOrg, auth.RoleOwner)

	rec := get("/iot", pro)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "module_not_in_plan", errorCode(t, rec))
	assert.Equal(t, http.StatusNoContent, get("/finance", pro).Code)

	rec = get("/finance", hobby)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "feature_not_in_plan", errorCode(t, rec))

	assert.Equal(t, http.StatusNoContent, get("/iot", trial).Code, "trials run on the enterprise tier")

	rec = get("/iot", suspended)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "subscription_inactive", errorCode(t, rec))

	assert.Equal(t, http.StatusNoContent, get("/iot", token(t, uuid.Nil, auth.RoleSuperadmin)).Code)

	rec = get("/iot", token(t, uuid.New(), auth.RoleOwner))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntitlements_RequireCapacity(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	verifier, err := auth.NewVerifier(auth.Config{SecretKey: testSecret})
	require.NoError(t, err)
	ent := billing.NewEntitlements(f.svc, discardLogger(), billing.WithCounters(f.counters))

	created := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })
	r := chi.NewRouter()
	r.Use(auth.Middleware(verifier))
	r.With(ent.RequireCapacity(subscription.ResourceFarms)).Post("/farms", created)
	r.With(ent.RequireCapacity(subscription.ResourceFlocks)).Post("/flocks", created)

	post := func(path string, org uuid.UUID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "Bearer "+token(t, org, auth.RoleOwner))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	hobby := f.seedPaid(t, "hobby", subscription.IntervalMonth)
	assert.Equal(t, http.StatusCreated, post("/farms", hobby).Code)

	f.farms.Store(hobby, int64(1))
	rec := post("/farms", hobby)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "limit_exceeded", errorCode(t, rec))

	pro := f.seedPaid(t, "pro", subscription.IntervalMonth)
	assert.Equal(t, http.StatusCreated, post("/flocks", pro).Code, "unlimited resources need no counter")
}
