package license

import "statuslicense/pkg/vendorapi"

var vendorStatusMap = map[string]Status{
	vendorapi.VendorStatusActive:    StatusActive,
	vendorapi.VendorStatusExpired:   StatusExpired,
	vendorapi.VendorStatusSuspended: StatusSuspended,
	vendorapi.VendorStatusBanned:    StatusRevoked,
	vendorapi.VendorStatusInactive:  StatusRevoked,
}

// MapStatus translates a vendor status string into the local status.
// Unknown vendor statuses fail safe to revoked rather than active.
func MapStatus(vendorStatus string) Status {
	if s, ok := vendorStatusMap[vendorStatus]; ok {
		return s
	}
	return StatusRevoked
}
