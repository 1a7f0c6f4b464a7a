package rediskey

import "fmt"

// License keys (global convention across services)
const (
	LicensePrefix       = "license"
	LicenseOrgPrefix    = "license:org"
	EntitlementPrefix   = "license:entitlements"
	ExpiryWarningPrefix = "license:expiry-warning"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLicenseKey returns "license:{licenseID}"
func BuildLicenseKey(licenseID string) string {
	return NamespaceKey(LicensePrefix, licenseID)
}

// BuildOrgLicenseKey returns "license:org:{orgID}"
func BuildOrgLicenseKey(orgID string) string {
	return NamespaceKey(LicenseOrgPrefix, orgID)
}

// BuildEntitlementKey returns "license:entitlements:{orgID}" — the cached
// effective entitlement set the route layer reads.
func BuildEntitlementKey(orgID string) string {
	return NamespaceKey(EntitlementPrefix, orgID)
}

// BuildExpiryWarningKey returns "license:expiry-warning:{licenseID}"
func BuildExpiryWarningKey(licenseID string) string {
	return NamespaceKey(ExpiryWarningPrefix, licenseID)
}
