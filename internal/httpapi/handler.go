package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"statuslicense/pkg/db/pagination"
	"statuslicense/pkg/errutil"
	"statuslicense/pkg/vendorapi"
	"statuslicense/services/billing"
	"statuslicense/services/license"
	"statuslicense/services/organization"
)

// Handler is the admin HTTP surface over the licensing engine. The
// engine itself is consumed as a library; these routes exist for
// operators and the vendor webhook.
type Handler struct {
	orgs     organization.Service
	licenses license.Service
	events   billing.Recorder
	webhook  *vendorapi.WebhookVerifier
}

type Params struct {
	fx.In

	Orgs     organization.Service
	Licenses license.Service
	Events   billing.Recorder
	Webhook  *vendorapi.WebhookVerifier
}

func New(p Params) *Handler {
	return &Handler{
		orgs:     p.Orgs,
		licenses: p.Licenses,
		events:   p.Events,
		webhook:  p.Webhook,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	v1 := r.Group("/v1")

	v1.POST("/organizations", h.createOrganization)
	v1.GET("/organizations/:org_id", h.getOrganization)
	v1.DELETE("/organizations/:org_id", h.deleteOrganization)

	v1.POST("/organizations/:org_id/license/activate", h.activateLicense)
	v1.DELETE("/organizations/:org_id/license", h.deactivateLicense)
	v1.GET("/organizations/:org_id/license", h.getLicense)
	v1.POST("/organizations/:org_id/license/validate", h.validateLicense)
	v1.GET("/organizations/:org_id/entitlements", h.getEntitlements)
	v1.GET("/organizations/:org_id/events", h.listEvents)
	v1.GET("/organizations/:org_id/checkout", h.checkoutURL)

	v1.POST("/webhooks/vendor", h.vendorWebhook)
}

type createOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) createOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	org, err := h.orgs.Create(c.Request.Context(), req.Name)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

func (h *Handler) getOrganization(c *gin.Context) {
	org, err := h.orgs.Get(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

func (h *Handler) deleteOrganization(c *gin.Context) {
	ctx := c.Request.Context()
	orgID := c.Param("org_id")

	// license cleanup first so the vendor machine slot is released
	if err := h.licenses.Deactivate(ctx, orgID); err != nil && !errutil.HasStatus(err, errutil.StatusNotFound) {
		abortError(c, err)
		return
	}
	if err := h.orgs.Delete(ctx, orgID); err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) activateLicense(c *gin.Context) {
	var in license.ActivateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abortError(c, errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}
	in.OrganizationID = c.Param("org_id")

	l, err := h.licenses.Activate(c.Request.Context(), in)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) deactivateLicense(c *gin.Context) {
	if err := h.licenses.Deactivate(c.Request.Context(), c.Param("org_id")); err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getLicense(c *gin.Context) {
	l, err := h.licenses.GetByOrganization(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) validateLicense(c *gin.Context) {
	ctx := c.Request.Context()
	l, err := h.licenses.GetByOrganization(ctx, c.Param("org_id"))
	if err != nil {
		abortError(c, err)
		return
	}

	l, err = h.licenses.Validate(ctx, l.ID, billing.SourceAdmin)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) getEntitlements(c *gin.Context) {
	set, err := h.licenses.Entitlements(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

func (h *Handler) listEvents(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		abortError(c, errutil.BadRequest("invalid pagination params", errutil.WithErr(err)))
		return
	}

	events, pageInfo, err := h.events.ListByOrganization(c.Request.Context(), c.Param("org_id"), p)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      events,
		"page_info": pageInfo,
	})
}

func (h *Handler) checkoutURL(c *gin.Context) {
	orgID := c.Param("org_id")
	c.JSON(http.StatusOK, gin.H{
		"checkout_url": h.licenses.CheckoutURL(orgID, c.Query("plan"), c.Query("email")),
		"portal_url":   h.licenses.PortalURL(orgID),
	})
}

// vendorWebhook handles status pushes from the licensing vendor. The
// payload is not trusted: a valid signature only triggers a
// revalidation of the named license against the vendor API.
func (h *Handler) vendorWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortError(c, errutil.BadRequest("unreadable body"))
		return
	}

	if !h.webhook.VerifySignature(body, c.GetHeader("X-Signature")) {
		abortError(c, errutil.Unauthorized("invalid webhook signature"))
		return
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			LicenseID string `json:"license_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Data.LicenseID == "" {
		abortError(c, errutil.BadRequest("invalid webhook payload"))
		return
	}

	ctx := c.Request.Context()
	l, err := h.licenses.GetByVendorLicenseID(ctx, payload.Data.LicenseID)
	if err != nil {
		if errutil.HasStatus(err, errutil.StatusNotFound) {
			// unknown license: acknowledge so the vendor stops retrying
			c.Status(http.StatusOK)
			return
		}
		abortError(c, err)
		return
	}

	if _, err := h.licenses.Validate(ctx, l.ID, billing.SourceVendorWebhook); err != nil {
		zap.L().Error("webhook-triggered validation failed",
			zap.String("license_id", l.ID),
			zap.String("event", payload.Event),
			zap.Error(err),
		)
		abortError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
