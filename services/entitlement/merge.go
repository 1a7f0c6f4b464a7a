package entitlement

import "strconv"

// Merge combines zero or more grants into one effective set.
//
// Numeric limits sum across grants, except that Unlimited on any side makes
// the result Unlimited. A grant that omits a resource contributes the free
// default for it. Flags combine with OR. Called with no grants at all, the
// result is the free/base set. Deterministic and side-effect free, so the
// operation is commutative by construction.
func Merge(grants ...Grant) Set {
	if len(grants) == 0 {
		return DefaultSet()
	}

	out := Set{
		Limits: make(map[Resource]int64, len(resources)),
		Flags:  make(map[Feature]bool, len(features)),
	}

	for _, r := range resources {
		var total int64
		unlimited := false
		for _, g := range grants {
			v, ok := g.Limits[r]
			if !ok {
				v = defaultLimits[r]
			}
			if v == Unlimited {
				unlimited = true
				break
			}
			total += v
		}
		if unlimited {
			out.Limits[r] = Unlimited
		} else {
			out.Limits[r] = total
		}
	}

	for _, f := range features {
		enabled := false
		for _, g := range grants {
			if g.Flags[f] {
				enabled = true
				break
			}
		}
		out.Flags[f] = enabled
	}

	return out
}

// vendor metadata keys → internal shape. The recognized key set is closed;
// anything else in the vendor's bag is ignored.
var metaLimitKeys = map[string]Resource{
	"monitors":     ResourceMonitors,
	"maxMonitors":  ResourceMonitors,
	"statusPages":  ResourceStatusPages,
	"status_pages": ResourceStatusPages,
	"teamMembers":  ResourceTeamMembers,
	"team_members": ResourceTeamMembers,
	"regions":      ResourceRegions,
	"maxRegions":   ResourceRegions,
}

var metaFlagKeys = map[string]Feature{
	"auditLogs":    FeatureAuditLogs,
	"audit_logs":   FeatureAuditLogs,
	"sso":          FeatureSSO,
	"customRoles":  FeatureCustomRoles,
	"custom_roles": FeatureCustomRoles,
	"slo":          FeatureSLO,
	"reports":      FeatureReports,
	"multiRegion":  FeatureMultiRegion,
	"multi_region": FeatureMultiRegion,
}

// FromVendorMeta converts a vendor entitlement metadata bag into a grant.
func FromVendorMeta(meta map[string]string) Grant {
	g := Grant{
		Limits: map[Resource]int64{},
		Flags:  map[Feature]bool{},
	}

	for key, raw := range meta {
		if r, ok := metaLimitKeys[key]; ok {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				if v < Unlimited {
					continue
				}
				g.Limits[r] = v
			}
			continue
		}
		if f, ok := metaFlagKeys[key]; ok {
			if raw == "true" || raw == "1" {
				g.Flags[f] = true
			}
		}
	}

	return g
}
