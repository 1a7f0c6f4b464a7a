package license

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"statuslicense/pkg/config"
	"statuslicense/pkg/errutil"
	"statuslicense/pkg/rediskey"
	"statuslicense/pkg/repository"
	"statuslicense/pkg/security"
	"statuslicense/pkg/vendorapi"
	"statuslicense/services/billing"
	"statuslicense/services/entitlement"
	"statuslicense/services/notification"
)

const entitlementCacheTTL = time.Hour

type ActivateInput struct {
	OrganizationID string `json:"organization_id"`
	Key            string `json:"key"`
	Fingerprint    string `json:"fingerprint"`
	MachineName    string `json:"machine_name"`
	LicenseeName   string `json:"licensee_name"`
	LicenseeEmail  string `json:"licensee_email"`
}

type Service interface {
	Activate(ctx context.Context, in ActivateInput) (*License, error)
	Deactivate(ctx context.Context, orgID string) error
	Validate(ctx context.Context, licenseID string, source billing.Source) (*License, error)
	GetByOrganization(ctx context.Context, orgID string) (*License, error)
	GetByVendorLicenseID(ctx context.Context, vendorLicenseID string) (*License, error)
	Entitlements(ctx context.Context, orgID string) (entitlement.Set, error)
	ListBatch(ctx context.Context, afterID string, limit int) ([]*License, error)
	CheckoutURL(orgID, plan, email string) string
	PortalURL(orgID string) string
}

type service struct {
	db      *gorm.DB
	node    *snowflake.Node
	store   repository.Repository[License]
	records repository.Repository[ValidationRecord]
	vendor  *vendorapi.Client
	offline *vendorapi.OfflineVerifier
	events  billing.Recorder
	notify  notification.Dispatcher
	rdb     *goredis.Client
	cfg     *config.Config
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Store   repository.Repository[License]
	Records repository.Repository[ValidationRecord]
	Vendor  *vendorapi.Client
	Offline *vendorapi.OfflineVerifier
	Events  billing.Recorder
	Notify  notification.Dispatcher
	Redis   *goredis.Client
	Config  *config.Config
}

func New(p Params) Service {
	return &service{
		db:      p.DB,
		node:    p.Node,
		store:   p.Store,
		records: p.Records,
		vendor:  p.Vendor,
		offline: p.Offline,
		events:  p.Events,
		notify:  p.Notify,
		rdb:     p.Redis,
		cfg:     p.Config,
	}
}

// verification is the normalized outcome of an online or offline check.
// definitive means the answer is authoritative: a vendor response, or a
// cryptographically confirmed expiry. Signature-level failures are not
// definitive and must never drive a status transition on their own.
type verification struct {
	valid        bool
	definitive   bool
	code         vendorapi.Code
	detail       string
	source       string
	license      *vendorapi.License
	entitlements []vendorapi.Entitlement
	payload      *vendorapi.OfflinePayload
	machineID    string
}

func (s *service) Activate(ctx context.Context, in ActivateInput) (*License, error) {
	in.Key = strings.TrimSpace(in.Key)
	if in.OrganizationID == "" {
		return nil, errutil.BadRequest("organization id is required")
	}
	if in.Key == "" {
		return nil, errutil.BadRequest("license key is required")
	}

	v, err := s.verify(ctx, in.Key, in.Fingerprint, in.MachineName, true)
	if err != nil {
		return nil, err
	}
	if !v.valid {
		return nil, errutil.ValidationFailed("license key is not valid",
			errutil.WithDetails(errutil.Detail{Field: "code", Message: string(v.code)}))
	}

	now := time.Now()

	l, err := s.store.FindOne(ctx, &License{OrganizationID: in.OrganizationID})
	if err != nil {
		return nil, err
	}
	created := l == nil
	if created {
		l = &License{
			ID:             s.node.Generate().String(),
			OrganizationID: in.OrganizationID,
		}
	}

	l.Key = in.Key
	l.KeyHash = security.HashLicenseKey(in.Key)
	l.KeyMasked = security.MaskKey(in.Key)
	l.Status = StatusActive
	l.LastValidatedAt = &now
	l.LastValidationResult = ResultSuccess
	l.LastValidationCode = string(v.code)
	l.ConsecutiveFailures = 0
	l.GraceState = GraceStateNone
	l.GraceStartedAt = nil
	l.GraceEndsAt = nil
	l.GraceMilestones = datatypes.JSON([]byte("[]"))
	l.LicenseeName = in.LicenseeName
	l.LicenseeEmail = in.LicenseeEmail
	l.MachineFingerprint = in.Fingerprint
	l.MachineName = in.MachineName
	if v.machineID != "" {
		l.MachineID = v.machineID
	}

	s.applyVendorRecord(l, v)

	set := s.mergedEntitlements(v)
	l.Entitlements = entitlement.ToJSON(set)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := s.store.WithTrx(tx)
		if created {
			if err := store.Create(ctx, l); err != nil {
				return err
			}
		} else if err := tx.Save(l).Error; err != nil {
			return err
		}

		if err := s.recordValidation(ctx, tx, l, v, validationType(v, ""), now); err != nil {
			return err
		}
		if err := s.events.RecordTx(ctx, tx, &billing.BillingEvent{
			OrganizationID: l.OrganizationID,
			LicenseID:      l.ID,
			Type:           billing.EventLicenseActivated,
			Detail:         l.Plan,
			NewState:       l.Entitlements,
		}); err != nil {
			return err
		}
		return s.events.RecordTx(ctx, tx, &billing.BillingEvent{
			OrganizationID: l.OrganizationID,
			LicenseID:      l.ID,
			Type:           billing.EventEntitlementsSynced,
			NewState:       l.Entitlements,
		})
	})
	if err != nil {
		return nil, err
	}

	s.cacheEntitlements(ctx, l.OrganizationID, set)

	zap.L().Info("license activated",
		zap.String("organization_id", l.OrganizationID),
		zap.String("license_id", l.ID),
		zap.String("key", l.KeyMasked),
		zap.String("plan", l.Plan),
	)
	return l, nil
}

func (s *service) Deactivate(ctx context.Context, orgID string) error {
	l, err := s.GetByOrganization(ctx, orgID)
	if err != nil {
		return err
	}

	if l.MachineID != "" && s.vendor.IsConfigured() {
		if err := s.vendor.DeactivateMachine(ctx, l.MachineID); err != nil {
			// local deactivation proceeds regardless
			zap.L().Warn("vendor machine deactivation failed",
				zap.String("license_id", l.ID),
				zap.String("machine_id", l.MachineID),
				zap.Error(err),
			)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(l).Error; err != nil {
			return err
		}
		return s.events.RecordTx(ctx, tx, &billing.BillingEvent{
			OrganizationID: l.OrganizationID,
			LicenseID:      l.ID,
			Type:           billing.EventLicenseDeactivated,
			Detail:         l.Plan,
		})
	})
	if err != nil {
		return err
	}

	s.rdb.Del(ctx, rediskey.BuildEntitlementKey(orgID), rediskey.BuildOrgLicenseKey(orgID))
	return nil
}

// Validate runs one validation pass for a license and applies the
// outcome to persisted state.
func (s *service) Validate(ctx context.Context, licenseID string, source billing.Source) (*License, error) {
	l, err := s.store.FindOne(ctx, &License{ID: licenseID})
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errutil.NotFound("license not found")
	}
	if l.Key == "" {
		return nil, errutil.ValidationFailed("license has no key to validate")
	}

	v, err := s.verify(ctx, l.Key, l.MachineFingerprint, l.MachineName, false)
	if err != nil {
		return nil, err
	}

	if err := s.apply(ctx, l, v, source); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *service) GetByOrganization(ctx context.Context, orgID string) (*License, error) {
	l, err := s.store.FindOne(ctx, &License{OrganizationID: orgID})
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errutil.NotFound("organization has no license")
	}
	return l, nil
}

func (s *service) GetByVendorLicenseID(ctx context.Context, vendorLicenseID string) (*License, error) {
	l, err := s.store.FindOne(ctx, &License{VendorLicenseID: vendorLicenseID})
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errutil.NotFound("license not found")
	}
	return l, nil
}

// Entitlements answers from the redis cache when possible, then the
// persisted row, then the free defaults. Reads never call the vendor.
func (s *service) Entitlements(ctx context.Context, orgID string) (entitlement.Set, error) {
	key := rediskey.BuildEntitlementKey(orgID)
	if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
		return entitlement.FromJSON(raw), nil
	}

	l, err := s.store.FindOne(ctx, &License{OrganizationID: orgID})
	if err != nil {
		return entitlement.DefaultSet(), err
	}
	if l == nil {
		return entitlement.DefaultSet(), nil
	}

	set := entitlement.FromJSON(l.Entitlements)
	s.cacheEntitlements(ctx, orgID, set)
	return set, nil
}

// ListBatch pages through all licenses in id order for the validation
// sweep. Due-ness is decided per license by the caller.
func (s *service) ListBatch(ctx context.Context, afterID string, limit int) ([]*License, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*License
	err := s.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) CheckoutURL(orgID, plan, email string) string {
	policyID := s.cfg.Vendor.PolicyID
	if plan != "" {
		policyID = plan
	}
	return vendorapi.BuildCheckoutURL(s.cfg.Vendor.APIURL, vendorapi.CheckoutParams{
		AccountID:  s.cfg.Vendor.AccountID,
		PolicyID:   policyID,
		OrgID:      orgID,
		Email:      email,
		SuccessURL: s.cfg.Checkout.SuccessURL,
		CancelURL:  s.cfg.Checkout.CancelURL,
	})
}

func (s *service) PortalURL(orgID string) string {
	return vendorapi.BuildPortalURL(s.cfg.Vendor.APIURL, s.cfg.Vendor.AccountID, orgID)
}

// verify checks the key online first, falling back to the offline
// verifier when the vendor is unreachable or unconfigured. activating
// controls whether a missing machine activation is repaired in place.
func (s *service) verify(ctx context.Context, key, fingerprint, machineName string, activating bool) (verification, error) {
	if s.vendor.IsConfigured() {
		var machineID string
		res, err := s.vendor.Validate(ctx, key, fingerprint)
		if err == nil && activating && fingerprint != "" && needsMachine(res.Code) && res.License != nil {
			if machine, aerr := s.vendor.ActivateMachine(ctx, res.License.ID, fingerprint, machineName); aerr == nil {
				machineID = machine.ID
				res, err = s.vendor.Validate(ctx, key, fingerprint)
			}
		}
		if err == nil {
			if res.Valid && len(res.Entitlements) == 0 && res.License != nil {
				// validation response carried no inline grants
				ents, eerr := s.vendor.ListEntitlements(ctx, res.License.ID)
				if eerr != nil {
					zap.L().Warn("entitlement fetch failed, keeping cached grants",
						zap.String("vendor_license_id", res.License.ID),
						zap.Error(eerr),
					)
				} else {
					res.Entitlements = ents
				}
			}
			return verification{
				valid:        res.Valid,
				definitive:   true,
				code:         res.Code,
				detail:       res.Detail,
				source:       SourceVendor,
				license:      res.License,
				entitlements: res.Entitlements,
				machineID:    machineID,
			}, nil
		}
		if !errutil.IsVendorUnreachable(err) {
			return verification{}, err
		}
		zap.L().Warn("vendor unreachable, falling back to offline verification",
			zap.String("key", security.MaskKey(key)),
			zap.Error(err),
		)
	}

	off := s.offline.Verify(key)
	return verification{
		valid:      off.Valid,
		definitive: off.Valid || off.Code == vendorapi.CodeExpired,
		code:       off.Code,
		detail:     off.Detail,
		source:     SourceOffline,
		payload:    off.Payload,
	}, nil
}

func needsMachine(code vendorapi.Code) bool {
	switch code {
	case vendorapi.CodeNoMachine, vendorapi.CodeNoMachines, vendorapi.CodeFingerprintMiss:
		return true
	}
	return false
}

// apply commits a validation outcome: audit row, counters, status
// transition, grace start or recovery, entitlement refresh.
func (s *service) apply(ctx context.Context, l *License, v verification, source billing.Source) error {
	now := time.Now()
	prevStatus := l.Status
	prevEntitlements := l.Entitlements

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.recordValidation(ctx, tx, l, v, validationType(v, source), now); err != nil {
			return err
		}

		l.LastValidatedAt = &now
		l.LastValidationCode = string(v.code)

		switch {
		case v.valid:
			l.LastValidationResult = ResultSuccess
			l.ConsecutiveFailures = 0
			l.Status = StatusActive
			s.applyVendorRecord(l, v)

			if v.source == SourceVendor {
				set := s.mergedEntitlements(v)
				next := entitlement.ToJSON(set)
				if string(next) != string(prevEntitlements) {
					l.Entitlements = next
					if err := s.events.RecordTx(ctx, tx, &billing.BillingEvent{
						OrganizationID: l.OrganizationID,
						LicenseID:      l.ID,
						Type:           billing.EventEntitlementsSynced,
						Source:         source,
						PreviousState:  prevEntitlements,
						NewState:       next,
					}); err != nil {
						return err
					}
				}
				s.cacheEntitlements(ctx, l.OrganizationID, set)
			}

			if l.InGrace() {
				if err := s.recoverGrace(ctx, tx, l, source); err != nil {
					return err
				}
			}

		case v.definitive:
			l.LastValidationResult = ResultFailed
			l.ConsecutiveFailures++
			l.Status = statusFor(v)
			s.applyVendorRecord(l, v)

			if prevStatus == StatusActive && l.GraceState != GraceStateActive && l.GraceState != GraceStateExpired &&
				(l.Status == StatusSuspended || l.Status == StatusExpired) {
				if err := s.startGrace(ctx, tx, l, now, source); err != nil {
					return err
				}
			}

		default:
			// cannot confirm: counters only, cached state untouched
			l.LastValidationResult = ResultFailed
			l.ConsecutiveFailures++
		}

		return tx.Save(l).Error
	})
}

// startGrace opens the grace window. The guard clause keeps two
// concurrent validators from opening it twice.
func (s *service) startGrace(ctx context.Context, tx *gorm.DB, l *License, now time.Time, source billing.Source) error {
	endsAt := now.Add(time.Duration(s.cfg.Grace.PeriodDays) * 24 * time.Hour)

	res := tx.Model(&License{}).
		Where("id = ? AND grace_state NOT IN ?", l.ID, []GraceState{GraceStateActive, GraceStateExpired}).
		Updates(map[string]interface{}{
			"grace_state":      GraceStateActive,
			"grace_started_at": now,
			"grace_ends_at":    endsAt,
			"grace_milestones": datatypes.JSON([]byte("[]")),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	l.GraceState = GraceStateActive
	l.GraceStartedAt = &now
	l.GraceEndsAt = &endsAt
	l.GraceMilestones = datatypes.JSON([]byte("[]"))

	if err := s.events.RecordTx(ctx, tx, &billing.BillingEvent{
		OrganizationID: l.OrganizationID,
		LicenseID:      l.ID,
		Type:           billing.EventGracePeriodStarted,
		Source:         source,
		Detail:         string(l.Status),
		Metadata:       billing.Meta(map[string]interface{}{"ends_at": endsAt}),
	}); err != nil {
		return err
	}

	if err := s.notify.Dispatch(ctx, notification.Intent{
		Kind:           notification.KindLicenseSuspended,
		OrganizationID: l.OrganizationID,
		LicenseID:      l.ID,
		LicenseeEmail:  l.LicenseeEmail,
		LicenseeName:   l.LicenseeName,
		Plan:           l.Plan,
		ExpiresAt:      endsAt,
		Detail:         string(l.Status),
	}); err != nil {
		zap.L().Error("failed to enqueue suspension notice",
			zap.String("license_id", l.ID),
			zap.Error(err),
		)
	}
	return nil
}

// recoverGrace closes an active grace window after a healthy
// validation. Guarded so only one of two racing validators records the
// recovery.
func (s *service) recoverGrace(ctx context.Context, tx *gorm.DB, l *License, source billing.Source) error {
	res := tx.Model(&License{}).
		Where("id = ? AND grace_state = ?", l.ID, GraceStateActive).
		Updates(map[string]interface{}{
			"grace_state":      GraceStateNone,
			"grace_started_at": nil,
			"grace_ends_at":    nil,
			"grace_milestones": datatypes.JSON([]byte("[]")),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	l.GraceState = GraceStateNone
	l.GraceStartedAt = nil
	l.GraceEndsAt = nil
	l.GraceMilestones = datatypes.JSON([]byte("[]"))

	zap.L().Info("grace period recovered",
		zap.String("organization_id", l.OrganizationID),
		zap.String("license_id", l.ID),
	)

	return s.events.RecordTx(ctx, tx, &billing.BillingEvent{
		OrganizationID: l.OrganizationID,
		LicenseID:      l.ID,
		Type:           billing.EventGracePeriodRecovered,
		Source:         source,
	})
}

func (s *service) recordValidation(ctx context.Context, tx *gorm.DB, l *License, v verification, vt ValidationType, now time.Time) error {
	return s.records.WithTrx(tx).Create(ctx, &ValidationRecord{
		ID:                 s.node.Generate().String(),
		LicenseID:          l.ID,
		Type:               string(vt),
		Valid:              v.valid,
		Code:               string(v.code),
		Detail:             v.detail,
		Source:             v.source,
		MachineFingerprint: l.MachineFingerprint,
		CreatedAt:          now,
	})
}

// validationType classifies the attempt for the audit trail. Offline
// checks are always recorded as offline, whatever asked for them.
func validationType(v verification, source billing.Source) ValidationType {
	if v.source == SourceOffline {
		return ValidationOffline
	}
	switch source {
	case billing.SourceAdmin:
		return ValidationManual
	case billing.SourceSystem:
		return ValidationScheduled
	default:
		return ValidationOnline
	}
}

// applyVendorRecord refreshes the local row from whichever signed or
// online record the verification produced.
func (s *service) applyVendorRecord(l *License, v verification) {
	if v.license != nil {
		l.VendorLicenseID = v.license.ID
		l.PolicyID = v.license.PolicyID
		if v.license.Name != "" {
			l.Plan = v.license.Name
		}
		l.ExpiresAt = v.license.Expiry
		if len(v.license.Metadata) > 0 {
			if b, err := json.Marshal(v.license.Metadata); err == nil {
				l.Metadata = datatypes.JSON(b)
			}
		}
		return
	}
	if v.payload != nil {
		if v.payload.LicenseID != "" {
			l.VendorLicenseID = v.payload.LicenseID
		}
		if v.payload.PolicyID != "" {
			l.PolicyID = v.payload.PolicyID
		}
		if v.payload.Plan != "" {
			l.Plan = v.payload.Plan
		}
		if v.payload.Expiry != nil {
			l.ExpiresAt = v.payload.Expiry
		}
	}
}

// mergedEntitlements folds every vendor entitlement grant into one set.
// No grants at all resolves to the free defaults.
func (s *service) mergedEntitlements(v verification) entitlement.Set {
	grants := make([]entitlement.Grant, 0, len(v.entitlements))
	for _, e := range v.entitlements {
		grants = append(grants, entitlement.FromVendorMeta(e.Metadata))
	}
	return entitlement.Merge(grants...)
}

func (s *service) cacheEntitlements(ctx context.Context, orgID string, set entitlement.Set) {
	raw := entitlement.ToJSON(set)
	if err := s.rdb.Set(ctx, rediskey.BuildEntitlementKey(orgID), []byte(raw), entitlementCacheTTL).Err(); err != nil {
		zap.L().Warn("entitlement cache write failed",
			zap.String("organization_id", orgID),
			zap.Error(err),
		)
	}
}

// statusFor maps a definitive negative verification to a local status.
func statusFor(v verification) Status {
	if v.license != nil {
		return MapStatus(v.license.Status)
	}
	switch v.code {
	case vendorapi.CodeExpired:
		return StatusExpired
	case vendorapi.CodeSuspended, vendorapi.CodeOverdue:
		return StatusSuspended
	default:
		return StatusRevoked
	}
}
