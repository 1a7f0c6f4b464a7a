package vendorapi

import (
	"fmt"
	"net/url"
)

// CheckoutParams feed the hosted checkout/portal URL builders. These are pure
// string templating over the vendor account, no business logic.
type CheckoutParams struct {
	AccountID  string
	PolicyID   string
	Email      string
	OrgID      string
	SuccessURL string
	CancelURL  string
}

func BuildCheckoutURL(base string, p CheckoutParams) string {
	values := url.Values{}
	values.Set("policy", p.PolicyID)
	if p.Email != "" {
		values.Set("email", p.Email)
	}
	if p.OrgID != "" {
		values.Set("metadata[org_id]", p.OrgID)
	}
	if p.SuccessURL != "" {
		values.Set("success_url", p.SuccessURL)
	}
	if p.CancelURL != "" {
		values.Set("cancel_url", p.CancelURL)
	}

	return fmt.Sprintf("%s/checkout/%s?%s", base, p.AccountID, values.Encode())
}

func BuildPortalURL(base string, accountID, orgID string) string {
	values := url.Values{}
	values.Set("metadata[org_id]", orgID)
	return fmt.Sprintf("%s/portal/%s?%s", base, accountID, values.Encode())
}
