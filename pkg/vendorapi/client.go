package vendorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"statuslicense/pkg/errutil"
)

// Config carries the vendor account settings. It is passed in at
// construction; the client holds no global state.
type Config struct {
	APIURL    string
	AccountID string
	Token     string
	Timeout   time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// IsConfigured reports whether the client can reach a vendor account at all.
func (c *Client) IsConfigured() bool {
	return c.cfg.APIURL != "" && c.cfg.AccountID != ""
}

func (c *Client) accountURL(path string) string {
	return fmt.Sprintf("%s/v1/accounts/%s%s", c.cfg.APIURL, c.cfg.AccountID, path)
}

func (c *Client) do(ctx context.Context, method, url string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Accept", "application/vnd.api+json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errutil.VendorUnreachable("licensing vendor request failed", errutil.WithErr(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errutil.VendorUnreachable(fmt.Sprintf("licensing vendor returned %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode vendor response: %w", err)
		}
	}

	return nil
}

// Validate performs an online key validation. A network failure surfaces as a
// vendor-unreachable error so the caller can fall back to offline
// verification; a negative validation outcome is a normal result, not an
// error.
func (c *Client) Validate(ctx context.Context, licenseKey, fingerprint string) (*ValidationResult, error) {
	scope := map[string]interface{}{}
	if fingerprint != "" {
		scope["fingerprint"] = fingerprint
	}

	body := map[string]interface{}{
		"meta": map[string]interface{}{
			"key":   licenseKey,
			"scope": scope,
		},
	}

	var doc document
	if err := c.do(ctx, http.MethodPost, c.accountURL("/licenses/actions/validate-key"), body, &doc); err != nil {
		return nil, err
	}

	result := &ValidationResult{Code: CodeNotFound}
	if doc.Meta != nil {
		if v, ok := doc.Meta["valid"].(bool); ok {
			result.Valid = v
		}
		if code, ok := doc.Meta["code"].(string); ok {
			result.Code = Code(code)
		}
		if detail, ok := doc.Meta["detail"].(string); ok {
			result.Detail = detail
		}
	}

	if doc.Data != nil {
		result.License = licenseFromResource(*doc.Data)
	}
	for _, inc := range doc.Included {
		if inc.Type == "entitlements" {
			result.Entitlements = append(result.Entitlements, entitlementFromResource(inc))
		}
	}

	return result, nil
}

// ListEntitlements fetches the raw entitlement grants attached to a license.
// Validation responses carry them inline when the vendor supports includes;
// this is the fallback fetch when they do not.
func (c *Client) ListEntitlements(ctx context.Context, licenseID string) ([]Entitlement, error) {
	var doc listDocument
	if err := c.do(ctx, http.MethodGet, c.accountURL("/licenses/"+licenseID+"/entitlements"), nil, &doc); err != nil {
		return nil, err
	}

	out := make([]Entitlement, 0, len(doc.Data))
	for _, r := range doc.Data {
		out = append(out, entitlementFromResource(r))
	}
	return out, nil
}

// ActivateMachine registers a fingerprint against the license.
func (c *Client) ActivateMachine(ctx context.Context, licenseID, fingerprint, name string) (*Machine, error) {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "machines",
			"attributes": map[string]interface{}{
				"fingerprint": fingerprint,
				"name":        name,
			},
			"relationships": map[string]interface{}{
				"license": map[string]interface{}{
					"data": map[string]interface{}{"type": "licenses", "id": licenseID},
				},
			},
		},
	}

	var doc document
	if err := c.do(ctx, http.MethodPost, c.accountURL("/machines"), body, &doc); err != nil {
		return nil, err
	}
	if len(doc.Errors) > 0 {
		return nil, errutil.ValidationFailed(doc.Errors[0].Detail)
	}
	if doc.Data == nil {
		return nil, errutil.Internal("vendor returned no machine record")
	}

	m := &Machine{ID: doc.Data.ID}
	if fp, ok := doc.Data.Attributes["fingerprint"].(string); ok {
		m.Fingerprint = fp
	}
	if n, ok := doc.Data.Attributes["name"].(string); ok {
		m.Name = n
	}
	return m, nil
}

// DeactivateMachine releases an activation slot.
func (c *Client) DeactivateMachine(ctx context.Context, machineID string) error {
	return c.do(ctx, http.MethodDelete, c.accountURL("/machines/"+machineID), nil, nil)
}

func licenseFromResource(r resource) *License {
	lic := &License{ID: r.ID, Metadata: map[string]interface{}{}}

	if key, ok := r.Attributes["key"].(string); ok {
		lic.Key = key
	}
	if status, ok := r.Attributes["status"].(string); ok {
		lic.Status = status
	}
	if name, ok := r.Attributes["name"].(string); ok {
		lic.Name = name
	}
	if policy, ok := r.Attributes["policyId"].(string); ok {
		lic.PolicyID = policy
	}
	if expiry, ok := r.Attributes["expiry"].(string); ok && expiry != "" {
		if t, err := time.Parse(time.RFC3339, expiry); err == nil {
			lic.Expiry = &t
		}
	}
	if meta, ok := r.Attributes["metadata"].(map[string]interface{}); ok {
		lic.Metadata = meta
	}

	return lic
}

func entitlementFromResource(r resource) Entitlement {
	ent := Entitlement{ID: r.ID, Metadata: map[string]string{}}

	if code, ok := r.Attributes["code"].(string); ok {
		ent.Code = code
	}
	if name, ok := r.Attributes["name"].(string); ok {
		ent.Name = name
	}
	if meta, ok := r.Attributes["metadata"].(map[string]interface{}); ok {
		for k, v := range meta {
			if s, ok := v.(string); ok {
				ent.Metadata[k] = s
			} else {
				ent.Metadata[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	return ent
}
