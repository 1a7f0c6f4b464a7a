package license

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"statuslicense/pkg/config"
	"statuslicense/pkg/repository"
	"statuslicense/pkg/vendorapi"
	"statuslicense/services/billing"
	"statuslicense/services/entitlement"
	"statuslicense/services/notification"
	"statuslicense/services/testutil"
)

type capturedIntents struct {
	mu      sync.Mutex
	intents []notification.Intent
}

func (c *capturedIntents) Dispatch(_ context.Context, intent notification.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents = append(c.intents, intent)
	return nil
}

func (c *capturedIntents) kinds() []notification.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notification.Kind, 0, len(c.intents))
	for _, i := range c.intents {
		out = append(out, i.Kind)
	}
	return out
}

type svcHarness struct {
	db     *gorm.DB
	svc    Service
	notify *capturedIntents
}

func newSvcHarness(t *testing.T, vendorURL, offlinePubKey string) *svcHarness {
	t.Helper()

	db := testutil.NewTestDB(t, &License{}, &ValidationRecord{}, &billing.BillingEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	notify := &capturedIntents{}
	events := billing.New(billing.Params{
		Node:  node,
		Store: repository.ProvideStore[billing.BillingEvent](db),
	})

	cfg := &config.Config{}
	cfg.Grace.PeriodDays = 5
	cfg.Vendor.APIURL = vendorURL
	cfg.Vendor.AccountID = "acct_1"

	vendor := vendorapi.New(vendorapi.Config{
		APIURL:    vendorURL,
		AccountID: "acct_1",
		Timeout:   2 * time.Second,
	})

	svc := New(Params{
		DB:      db,
		Node:    node,
		Store:   repository.ProvideStore[License](db),
		Records: repository.ProvideStore[ValidationRecord](db),
		Vendor:  vendor,
		Offline: vendorapi.NewOfflineVerifier(offlinePubKey),
		Events:  events,
		Notify:  notify,
		Redis:   goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}),
		Config:  cfg,
	})

	return &svcHarness{db: db, svc: svc, notify: notify}
}

func vendorResponse(valid bool, code, status string) string {
	doc := map[string]interface{}{
		"meta": map[string]interface{}{
			"valid":  valid,
			"code":   code,
			"detail": "test",
		},
		"data": map[string]interface{}{
			"type": "licenses",
			"id":   "vlic_1",
			"attributes": map[string]interface{}{
				"status":   status,
				"name":     "pro",
				"policyId": "pol_1",
			},
		},
		"included": []map[string]interface{}{
			{
				"type": "entitlements",
				"id":   "ent_1",
				"attributes": map[string]interface{}{
					"code":     "PRO_LIMITS",
					"metadata": map[string]interface{}{"maxMonitors": "45", "sso": "true"},
				},
			},
		},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func staticVendor(t *testing.T, response *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(*response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func eventCount(t *testing.T, db *gorm.DB, licenseID string, typ billing.EventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&billing.BillingEvent{}).
		Where("license_id = ? AND type = ?", licenseID, typ).
		Count(&n).Error)
	return n
}

func TestActivateCreatesActiveLicense(t *testing.T) {
	response := vendorResponse(true, "VALID", "ACTIVE")
	srv := staticVendor(t, &response)
	h := newSvcHarness(t, srv.URL, "")
	ctx := context.Background()

	l, err := h.svc.Activate(ctx, ActivateInput{
		OrganizationID: "org_1",
		Key:            "KEY-ABC-123",
		LicenseeEmail:  "owner@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, l.Status)
	require.Equal(t, "vlic_1", l.VendorLicenseID)
	require.Equal(t, "pro", l.Plan)
	require.Equal(t, ResultSuccess, l.LastValidationResult)
	require.Equal(t, GraceStateNone, l.GraceState)
	require.NotEmpty(t, l.KeyMasked)
	require.NotEqual(t, l.Key, l.KeyMasked)

	set := entitlement.FromJSON(l.Entitlements)
	require.Equal(t, int64(45), set.Limit(entitlement.ResourceMonitors))
	require.True(t, set.Has(entitlement.FeatureSSO))

	require.EqualValues(t, 1, eventCount(t, h.db, l.ID, billing.EventLicenseActivated))
	require.EqualValues(t, 1, eventCount(t, h.db, l.ID, billing.EventEntitlementsSynced))

	var records int64
	require.NoError(t, h.db.Model(&ValidationRecord{}).Where("license_id = ?", l.ID).Count(&records).Error)
	require.EqualValues(t, 1, records)
}

func TestValidationRecordsCarryTypeAndFingerprint(t *testing.T) {
	response := vendorResponse(true, "VALID", "ACTIVE")
	srv := staticVendor(t, &response)
	h := newSvcHarness(t, srv.URL, "")
	ctx := context.Background()

	l, err := h.svc.Activate(ctx, ActivateInput{
		OrganizationID: "org_1",
		Key:            "KEY-ABC-123",
		Fingerprint:    "fp-1",
	})
	require.NoError(t, err)

	_, err = h.svc.Validate(ctx, l.ID, billing.SourceAdmin)
	require.NoError(t, err)
	_, err = h.svc.Validate(ctx, l.ID, billing.SourceSystem)
	require.NoError(t, err)
	_, err = h.svc.Validate(ctx, l.ID, billing.SourceVendorWebhook)
	require.NoError(t, err)

	var recs []ValidationRecord
	require.NoError(t, h.db.Where("license_id = ?", l.ID).Order("id ASC").Find(&recs).Error)
	require.Len(t, recs, 4)

	require.Equal(t, string(ValidationOnline), recs[0].Type)
	require.Equal(t, string(ValidationManual), recs[1].Type)
	require.Equal(t, string(ValidationScheduled), recs[2].Type)
	require.Equal(t, string(ValidationOnline), recs[3].Type)
	for _, rec := range recs {
		require.Equal(t, "fp-1", rec.MachineFingerprint)
		require.Equal(t, SourceVendor, rec.Source)
	}
}

func TestActivateRejectsInvalidKey(t *testing.T) {
	response := vendorResponse(false, "NOT_FOUND", "")
	srv := staticVendor(t, &response)
	h := newSvcHarness(t, srv.URL, "")

	_, err := h.svc.Activate(context.Background(), ActivateInput{
		OrganizationID: "org_1",
		Key:            "KEY-BAD",
	})
	require.Error(t, err)

	var n int64
	require.NoError(t, h.db.Model(&License{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestActivateIsUpsertPerOrganization(t *testing.T) {
	response := vendorResponse(true, "VALID", "ACTIVE")
	srv := staticVendor(t, &response)
	h := newSvcHarness(t, srv.URL, "")
	ctx := context.Background()

	first, err := h.svc.Activate(ctx, ActivateInput{OrganizationID: "org_1", Key: "KEY-1"})
	require.NoError(t, err)

	second, err := h.svc.Activate(ctx, ActivateInput{OrganizationID: "org_1", Key: "KEY-2"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var n int64
	require.NoError(t, h.db.Model(&License{}).Count(&n).Error)
	require.EqualValues(t, 1, n)
}

func TestValidateExpiredStartsGrace(t *testing.T) {
	response := vendorResponse(true, "VALID", "ACTIVE")
	srv := staticVendor(t, &response)
	h := newSvcHarness(t, srv.URL, "")
	ctx := context.Background()

	l, err := h.svc.Activate(ctx, ActivateInput{OrganizationID: "org_1", Key: "KEY-1"})
	require.NoError(t, err)

	response = vendorResponse(false, "EXPIRED", "EXPIRED")

	l, err = h.svc.Validate(ctx, l.ID, billing.SourceSystem)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, l.Status)
	require.Equal(t, ResultFailed, l.LastValidationResult)
	require.Equal(t, 1, l.ConsecutiveFailures)

	require.Equal(t, GraceStateActive, l.GraceState)
	require.NotNil(t, l.GraceStartedAt)
	require.NotNil(t, l.GraceEndsAt)
	require.Equal(t, 5*24*time.Hour, l.GraceEndsAt.Sub(*l.GraceStartedAt))
	require.Empty(t, l.MilestonesSent())

	require.EqualValues(t, 1, eventCount(t, h.db, l.ID, billing.EventGracePeriodStarted))
	require.Contains(t, h.notify.kinds(), notification.KindLicenseSuspended)

	// a second failing validation does not restart the window
	endsAt := *l.GraceEndsAt
	l, err = h.svc.Validate(ctx, l.ID, billing.SourceSystem)
	require.NoError(t, err)
	require.Equal(t, 2, l.ConsecutiveFailures)
	require.Equal(t, endsAt.Unix(), l.GraceEndsAt.Unix())
	require.EqualValues(t, 1, eventCount(t, h.db, l.ID, billing.EventGracePeriodStarted))
}

func TestValidateRecoversFromGrace(t *testing.T) {
	response := vendorResponse(true, "VALID", "ACTIVE")
	srv := staticVendor(t, &response)
	h := newSvcHarness(t, srv.URL, "")
	ctx := context.Background()

	l, err := h.svc.Activate(ctx, ActivateInput{OrganizationID: "org_1", Key: "KEY-1"})
	require.NoError(t, err)

	response = vendorResponse(false, "SUSPENDED", "SUSPENDED")
	l, err = h.svc.Validate(ctx, l.ID, billing.SourceSystem)
	require.NoError(t, err)
	require.Equal(t, GraceStateActive, l.GraceState)

	// payment fixed, vendor reports healthy again
	response = vendorResponse(true, "VALID", "ACTIVE")
	l, err = h.svc.Validate(ctx, l.ID, billing.SourceSystem)
	require.NoError(t, err)

	require.Equal(t, StatusActive, l.Status)
	require.Equal(t, 0, l.ConsecutiveFailures)
	require.Equal(t, GraceStateNone, l.GraceState)
	require.Nil(t, l.GraceStartedAt)
	require.Nil(t, l.GraceEndsAt)

	require.EqualValues(t, 1, eventCount(t, h.db, l.ID, billing.EventGracePeriodRecovered))
}

func TestValidateOfflineFallback(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	expiry := time.Now().Add(30 * 24 * time.Hour)
	payload, err := json.Marshal(vendorapi.OfflinePayload{
		LicenseID: "vlic_1",
		Plan:      "pro",
		Expiry:    &expiry,
	})
	require.NoError(t, err)
	signed := "key/" + base64.RawURLEncoding.EncodeToString(payload)
	key := signed + "." + base64.RawURLEncoding.EncodeToString(ed25519.Sign(priv, []byte(signed)))

	// vendor configured but dead
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	h := newSvcHarness(t, url, hex.EncodeToString(pub))

	l := &License{
		ID:             "lic_1",
		OrganizationID: "org_1",
		Key:            key,
		Status:         StatusActive,
		Plan:           "pro",
		GraceState:     GraceStateNone,
	}
	require.NoError(t, h.db.Create(l).Error)

	l, err = h.svc.Validate(context.Background(), l.ID, billing.SourceSystem)
	require.NoError(t, err)
	require.Equal(t, StatusActive, l.Status)
	require.Equal(t, ResultSuccess, l.LastValidationResult)
	require.Equal(t, 0, l.ConsecutiveFailures)

	var rec ValidationRecord
	require.NoError(t, h.db.Where("license_id = ?", l.ID).First(&rec).Error)
	require.Equal(t, SourceOffline, rec.Source)
	require.Equal(t, string(ValidationOffline), rec.Type)
	require.True(t, rec.Valid)
}

func TestValidateUnreachableNeverInvalidates(t *testing.T) {
	// vendor dead and no offline key: cannot confirm either way
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	h := newSvcHarness(t, url, "")

	l := &License{
		ID:             "lic_1",
		OrganizationID: "org_1",
		Key:            "KEY-1",
		Status:         StatusActive,
		GraceState:     GraceStateNone,
	}
	require.NoError(t, h.db.Create(l).Error)

	l, err := h.svc.Validate(context.Background(), l.ID, billing.SourceSystem)
	require.NoError(t, err)

	// status and grace untouched, only the failure counter moves
	require.Equal(t, StatusActive, l.Status)
	require.Equal(t, GraceStateNone, l.GraceState)
	require.Equal(t, ResultFailed, l.LastValidationResult)
	require.Equal(t, 1, l.ConsecutiveFailures)
	require.EqualValues(t, 0, eventCount(t, h.db, l.ID, billing.EventGracePeriodStarted))
}

func TestEntitlementsWithoutLicenseAreDefaults(t *testing.T) {
	response := vendorResponse(true, "VALID", "ACTIVE")
	srv := staticVendor(t, &response)
	h := newSvcHarness(t, srv.URL, "")

	set, err := h.svc.Entitlements(context.Background(), "org_without_license")
	require.NoError(t, err)
	require.Equal(t, entitlement.DefaultSet(), set)
}

func TestDeactivateRemovesLicense(t *testing.T) {
	response := vendorResponse(true, "VALID", "ACTIVE")
	srv := staticVendor(t, &response)
	h := newSvcHarness(t, srv.URL, "")
	ctx := context.Background()

	l, err := h.svc.Activate(ctx, ActivateInput{OrganizationID: "org_1", Key: "KEY-1"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Deactivate(ctx, "org_1"))

	_, err = h.svc.GetByOrganization(ctx, "org_1")
	require.Error(t, err)
	require.EqualValues(t, 1, eventCount(t, h.db, l.ID, billing.EventLicenseDeactivated))
}
