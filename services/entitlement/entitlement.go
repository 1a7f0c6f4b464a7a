package entitlement

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// Unlimited marks a resource limit with no cap. It absorbs every other
// value during merging.
const Unlimited int64 = -1

type Resource string

const (
	ResourceMonitors    Resource = "monitors"
	ResourceStatusPages Resource = "status_pages"
	ResourceTeamMembers Resource = "team_members"
	ResourceRegions     Resource = "regions"
)

type Feature string

const (
	FeatureAuditLogs   Feature = "audit_logs"
	FeatureSSO         Feature = "sso"
	FeatureCustomRoles Feature = "custom_roles"
	FeatureSLO         Feature = "slo"
	FeatureReports     Feature = "reports"
	FeatureMultiRegion Feature = "multi_region"
)

var resources = []Resource{
	ResourceMonitors,
	ResourceStatusPages,
	ResourceTeamMembers,
	ResourceRegions,
}

var features = []Feature{
	FeatureAuditLogs,
	FeatureSSO,
	FeatureCustomRoles,
	FeatureSLO,
	FeatureReports,
	FeatureMultiRegion,
}

// Set is the effective entitlement set for an organization: numeric limits
// plus boolean feature flags. It is a value object, cached on the license
// row, never persisted standalone.
type Set struct {
	Limits map[Resource]int64 `json:"limits"`
	Flags  map[Feature]bool   `json:"flags"`
}

// Grant is a partial entitlement contribution from one source (a vendor
// entitlement record, the base tier). Omitted limits fall back to the free
// defaults when the grant is normalized during merging.
type Grant struct {
	Limits map[Resource]int64 `json:"limits,omitempty"`
	Flags  map[Feature]bool   `json:"flags,omitempty"`
}

// free tier defaults
var defaultLimits = map[Resource]int64{
	ResourceMonitors:    5,
	ResourceStatusPages: 1,
	ResourceTeamMembers: 0,
	ResourceRegions:     1,
}

// DefaultSet returns the free/base entitlement set.
func DefaultSet() Set {
	s := Set{
		Limits: make(map[Resource]int64, len(resources)),
		Flags:  make(map[Feature]bool, len(features)),
	}
	for _, r := range resources {
		s.Limits[r] = defaultLimits[r]
	}
	for _, f := range features {
		s.Flags[f] = false
	}
	return s
}

// FreeGrant is the base-tier grant merged in on downgrade.
func FreeGrant() Grant {
	limits := make(map[Resource]int64, len(defaultLimits))
	for r, v := range defaultLimits {
		limits[r] = v
	}
	return Grant{Limits: limits}
}

// Limit returns the effective cap for a resource, falling back to the free
// default for anything the set does not carry.
func (s Set) Limit(r Resource) int64 {
	if v, ok := s.Limits[r]; ok {
		return v
	}
	return defaultLimits[r]
}

// Has reports whether a feature flag is enabled.
func (s Set) Has(f Feature) bool {
	return s.Flags[f]
}

func ToJSON(s Set) datatypes.JSON {
	b, _ := json.Marshal(s)
	return datatypes.JSON(b)
}

func FromJSON(raw datatypes.JSON) Set {
	if len(raw) == 0 {
		return DefaultSet()
	}
	var s Set
	if err := json.Unmarshal(raw, &s); err != nil || s.Limits == nil {
		return DefaultSet()
	}
	if s.Flags == nil {
		s.Flags = map[Feature]bool{}
	}
	return s
}
