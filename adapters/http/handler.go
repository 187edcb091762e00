// Package http provides the HTTP edge of quotagate: image job endpoints,
// usage and credit queries, and the operational routes.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/app"
	_ "github.com/shrinkix/quotagate/docs/swagger" // swagger docs
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/operation"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/pkg/jsonapi"
	"github.com/shrinkix/quotagate/ports"
)

// authRealm is the realm of every 401 challenge.
const authRealm = "shrinkix"

// Handler serves the public API.
type Handler struct {
	compress       *app.CompressService
	resolver       *app.CredentialResolver
	accounts       *app.AccountService
	ledger         *app.CreditLedger
	catalogs       *app.CatalogHolder
	clock          ports.Clock
	logger         zerolog.Logger
	apiMode        quota.EnforceMode
	maxUploadBytes int64
	trustedProxies []netip.Prefix
}

// HandlerDeps contains dependencies for Handler.
type HandlerDeps struct {
	Compress *app.CompressService
	Resolver *app.CredentialResolver
	Accounts *app.AccountService
	Ledger   *app.CreditLedger
	Catalogs *app.CatalogHolder
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// HandlerConfig configures request handling.
type HandlerConfig struct {
	// APIMode is the enforcement mode of /v1/optimize. Empty means soft.
	APIMode        quota.EnforceMode
	MaxUploadBytes int64
	// TrustedProxies are the peers whose forwarding headers name the client.
	TrustedProxies []netip.Prefix
}

// NewHandler creates a new API handler.
func NewHandler(deps HandlerDeps, cfg HandlerConfig) *Handler {
	if cfg.APIMode == "" {
		cfg.APIMode = quota.EnforceSoft
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		compress:       deps.Compress,
		resolver:       deps.Resolver,
		accounts:       deps.Accounts,
		ledger:         deps.Ledger,
		catalogs:       deps.Catalogs,
		clock:          deps.Clock,
		logger:         deps.Logger,
		apiMode:        cfg.APIMode,
		maxUploadBytes: cfg.MaxUploadBytes,
		trustedProxies: cfg.TrustedProxies,
	}
}

// Compress handles the legacy web compression endpoint. Quota is enforced
// in hard mode.
//
//	@Summary		Compress an image
//	@Description	Compresses an uploaded image. Anonymous callers draw on the daily guest allowance.
//	@Tags			Images
//	@Accept			multipart/form-data
//	@Produce		octet-stream
//	@Param			image		formData	file	true	"Image file"
//	@Param			quality		formData	int		false	"Output quality (1-100)"
//	@Param			format		formData	string	false	"Output format (jpeg, png, gif)"
//	@Success		200			{file}		binary	"Processed image"
//	@Failure		401			{object}	jsonapi.Document
//	@Failure		403			{object}	jsonapi.Document
//	@Failure		413			{object}	jsonapi.Document
//	@Failure		415			{object}	jsonapi.Document
//	@Failure		429			{object}	jsonapi.Document
//	@Router			/api/compress [post]
func (h *Handler) Compress(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, quota.EnforceHard)
}

// Optimize handles the versioned optimization endpoint. The enforcement
// mode is configured per deployment.
//
//	@Summary		Optimize an image
//	@Description	Compresses and optionally resizes, crops or converts an image. Each transform counts as one operation against the plan ceiling.
//	@Tags			Images
//	@Accept			multipart/form-data
//	@Produce		octet-stream
//	@Param			image		formData	file	true	"Image file"
//	@Param			resize		formData	string	false	"JSON object {width, height, fit}"
//	@Param			crop		formData	string	false	"Crop to exact width x height"
//	@Param			format		formData	string	false	"Output format (jpeg, png, gif)"
//	@Param			quality		formData	int		false	"Output quality (1-100)"
//	@Param			metadata	formData	string	false	"strip or keep"
//	@Success		200			{file}		binary	"Processed image"
//	@Failure		401			{object}	jsonapi.Document
//	@Failure		422			{object}	jsonapi.Document
//	@Failure		429			{object}	jsonapi.Document
//	@Security		BearerAuth
//	@Security		ApiKeyAuth
//	@Router			/v1/optimize [post]
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.apiMode)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request, mode quota.EnforceMode) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	in, err := parseUpload(r, h.maxUploadBytes)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	res, err := h.compress.Handle(r.Context(), app.CompressRequest{
		Credentials: extractInbound(r),
		ClientIP:    extractIP(r, h.trustedProxies),
		Filename:    in.Filename,
		Data:        in.Data,
		Operations:  in.Operations,
		Quality:     in.Quality,
		Mode:        mode,
	})
	setQuotaHeaders(w, res)
	if err != nil {
		h.writeError(w, r, err, res.Plan.Tier)
		return
	}

	out := res.Output
	kinds := operation.Breakdown(in.Operations)
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	hdr := w.Header()
	hdr.Set("Content-Type", out.ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(out.Data)))
	hdr.Set("X-Original-Size", strconv.Itoa(res.OriginalSize))
	hdr.Set("X-Optimized-Size", strconv.Itoa(len(out.Data)))
	hdr.Set("X-Savings-Percent", savings(res.OriginalSize, len(out.Data)))
	hdr.Set("X-Operations", strings.Join(names, ","))
	hdr.Set("X-Operations-Cost", strconv.Itoa(res.Cost))
	hdr.Set("X-Image-Width", strconv.Itoa(out.Width))
	hdr.Set("X-Image-Height", strconv.Itoa(out.Height))
	if res.Pool != "" {
		hdr.Set("X-Quota-Pool", string(res.Pool))
	}
	hdr.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", outputName(in.Filename, out.Format)))

	w.WriteHeader(http.StatusOK)
	w.Write(out.Data)
}

// setQuotaHeaders publishes rate-limit and quota metadata. It runs on
// both success and failure so a denied caller still learns its standing.
func setQuotaHeaders(w http.ResponseWriter, res app.CompressResult) {
	hdr := w.Header()
	if res.RateLimit != nil {
		for k, v := range res.RateLimit.Headers() {
			hdr.Set(k, v)
		}
	}
	if g := res.Guest; g != nil {
		hdr.Set("X-Guest-Limit", strconv.Itoa(g.Limit))
		hdr.Set("X-Guest-Remaining", strconv.Itoa(g.Remaining))
		return
	}
	d := res.Decision
	if d.Mode == "" || d.Unlimited {
		return
	}
	hdr.Set("X-Quota-Used", strconv.FormatInt(d.Used, 10))
	hdr.Set("X-Quota-Limit", strconv.FormatInt(d.Limit, 10))
	hdr.Set("X-Quota-Remaining", strconv.FormatInt(d.Remaining, 10))
	hdr.Set("X-Quota-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Warning > quota.WarningNone {
		hdr.Set("X-Quota-Warning", d.Warning.String())
	}
	if d.WouldBlock {
		hdr.Set("X-Quota-Exceeded", "true")
	}
}

// Usage returns the caller's current-cycle usage summary.
//
//	@Summary		Get usage summary
//	@Description	Returns usage, plan limits, add-on balance and cycle dates for the authenticated account
//	@Tags			Usage
//	@Produce		json
//	@Success		200	{object}	jsonapi.Document
//	@Failure		401	{object}	jsonapi.Document
//	@Failure		503	{object}	jsonapi.Document
//	@Security		BearerAuth
//	@Security		ApiKeyAuth
//	@Router			/v1/usage [get]
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	s, err := h.accounts.Summary(r.Context(), id.Account.ID)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	history := make([]map[string]any, len(s.Addon.History))
	for i, p := range s.Addon.History {
		history[i] = purchaseAttrs(p)
	}

	res := jsonapi.NewResource("usage", id.Account.ID).
		Attr("usage", map[string]any{
			"used":       s.Usage.Used,
			"remaining":  s.Usage.Remaining,
			"total":      s.Usage.Total,
			"percentage": s.Usage.Percentage,
		}).
		Attr("plan", map[string]any{
			"plan_id":         s.Plan.ID,
			"name":            s.Plan.Name,
			"tier":            s.Plan.Tier,
			"base_limit":      s.Plan.BaseLimit,
			"web_limit":       s.Plan.WebLimit,
			"max_file_size":   s.Plan.MaxFileSize,
			"max_pixels":      s.Plan.MaxPixels,
			"allowed_formats": s.Plan.AllowedFormats,
			"features":        s.Plan.Features,
			"rate_limit":      s.Plan.RateLimit,
		}).
		Attr("addon", map[string]any{
			"current_credits":  s.Addon.CurrentCredits,
			"purchase_history": history,
		}).
		Attr("cycle", map[string]any{
			"cadence":          s.Cycle.Cadence,
			"reset_at":         s.Cycle.ResetAt,
			"days_until_reset": s.Cycle.DaysUntilReset,
			"cycle_start":      s.Cycle.CycleStart,
		}).
		Build()

	jsonapi.WriteResource(w, http.StatusOK, res)
}

// PurchaseRequest is the body of a credit purchase.
type PurchaseRequest struct {
	AddonType        string `json:"addonType" example:"growth-boost"`
	PaymentReference string `json:"paymentReference" example:"pay_8f2c"`
}

// PurchaseCredits grants an add-on bundle to the caller's account.
//
//	@Summary		Purchase add-on credits
//	@Description	Grants a credit bundle once its payment has been confirmed. A payment reference is applied at most once.
//	@Tags			Credits
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PurchaseRequest	true	"Purchase"
//	@Success		200		{object}	jsonapi.Document
//	@Failure		400		{object}	jsonapi.Document
//	@Failure		409		{object}	jsonapi.Document
//	@Failure		422		{object}	jsonapi.Document
//	@Security		BearerAuth
//	@Security		ApiKeyAuth
//	@Router			/v1/credits/purchase [post]
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteBadRequest(w, "Invalid JSON body")
		return
	}
	if req.AddonType == "" {
		jsonapi.WriteError(w, jsonapi.ErrValidationRequired("addonType"))
		return
	}

	balance, err := h.ledger.Purchase(r.Context(), id.Account.ID, req.AddonType, req.PaymentReference)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	jsonapi.WriteResource(w, http.StatusOK, jsonapi.NewResource("credit_balance", id.Account.ID).
		Attr("current_credits", balance).
		Build())
}

// CreditHistory lists the caller's add-on purchases, newest first.
//
//	@Summary		List credit purchases
//	@Tags			Credits
//	@Produce		json
//	@Param			page[number]	query		int	false	"Page number"
//	@Param			page[size]		query		int	false	"Page size"
//	@Success		200				{object}	jsonapi.Document
//	@Failure		401				{object}	jsonapi.Document
//	@Security		BearerAuth
//	@Security		ApiKeyAuth
//	@Router			/v1/credits/history [get]
func (h *Handler) CreditHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	history, err := h.ledger.History(r.Context(), id.Account.ID)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	page, perPage := jsonapi.ParsePaginationParams(r.URL.Query(), 20)
	p := jsonapi.NewPagination(int64(len(history)), page, perPage, r.URL.Path)

	start, end := p.Window(len(history))

	resources := make([]jsonapi.Resource, 0, end-start)
	for _, purchase := range history[start:end] {
		resources = append(resources, jsonapi.NewResource("credit_purchase", purchase.ID).
			Attrs(purchaseAttrs(purchase)).
			Build())
	}
	jsonapi.WriteCollection(w, http.StatusOK, resources, p)
}

// Addons lists the add-ons the caller's plan may purchase.
//
//	@Summary		List available add-ons
//	@Tags			Credits
//	@Produce		json
//	@Success		200	{object}	jsonapi.Document
//	@Failure		401	{object}	jsonapi.Document
//	@Security		BearerAuth
//	@Security		ApiKeyAuth
//	@Router			/v1/addons [get]
func (h *Handler) Addons(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	addons, err := h.accounts.Addons(r.Context(), id.Account.ID)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	resources := make([]jsonapi.Resource, len(addons))
	for i, a := range addons {
		resources[i] = addonResource(a)
	}
	jsonapi.WriteDocument(w, http.StatusOK, jsonapi.NewDocument().
		DataCollection(resources).
		Meta("cap", h.catalogs.Addons().Cap()).
		Build())
}

// Plans lists the plan catalog.
//
//	@Summary		List plans
//	@Tags			Plans
//	@Produce		json
//	@Success		200	{object}	jsonapi.Document
//	@Router			/v1/plans [get]
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	plans := h.catalogs.Plans().List()
	resources := make([]jsonapi.Resource, len(plans))
	for i, p := range plans {
		resources[i] = planResource(p)
	}
	jsonapi.WriteCollection(w, http.StatusOK, resources, nil)
}

// authenticate resolves the caller and rejects anonymous requests.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (app.Identity, bool) {
	id, err := h.resolver.Resolve(r.Context(), extractInbound(r))
	if err != nil {
		h.writeError(w, r, err, "")
		return id, false
	}
	if id.Anonymous() {
		jsonapi.WriteUnauthorized(w, authRealm, "")
		return id, false
	}
	return id, true
}

// writeError writes a JSON:API error document for a service error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, tier plan.Tier) {
	e, headers := errorFor(err, tier, h.clock.Now())
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	if e.StatusCode() >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("request_id", requestID(r)).
			Msg("request failed")
	}
	if e.StatusCode() == http.StatusUnauthorized {
		jsonapi.Challenge(w, authRealm)
	}
	jsonapi.WriteError(w, e)
}

func purchaseAttrs(p credit.Purchase) map[string]any {
	return map[string]any{
		"addon":        p.Addon,
		"credits":      p.Credits,
		"price":        credit.FormatPrice(p.PriceCents),
		"payment_ref":  p.PaymentRef,
		"purchased_at": p.PurchasedAt,
		"cycle_start":  p.CycleStart,
	}
}

func addonResource(a credit.Addon) jsonapi.Resource {
	return jsonapi.NewResource("addon", a.ID).
		Attr("name", a.Name).
		Attr("credits", a.Credits).
		Attr("price_cents", a.PriceCents).
		Attr("price", credit.FormatPrice(a.PriceCents)).
		Build()
}

func planResource(p plan.Plan) jsonapi.Resource {
	return jsonapi.NewResource("plan", p.ID).
		Attr("name", p.Name).
		Attr("tier", p.Tier).
		Attr("cadence", p.Cadence).
		Attr("monthly_limit", p.MonthlyLimit).
		Attr("web_limit", p.WebLimit).
		Attr("max_file_size", p.MaxFileSize).
		Attr("max_pixels", p.MaxPixels).
		Attr("allowed_formats", p.AllowedFormats).
		Attr("max_operations", p.MaxOperations).
		Attr("rate_limit", p.RateLimit).
		Attr("features", p.Features).
		Attr("addons_enabled", p.AddonsEnabled).
		Build()
}

// savings is the percentage size reduction to one decimal place.
func savings(before, after int) string {
	if before <= 0 {
		return "0.0"
	}
	return strconv.FormatFloat(float64(before-after)/float64(before)*100, 'f', 1, 64)
}

// outputName swaps the extension of the uploaded filename for the output
// format.
func outputName(name, format string) string {
	if name == "" {
		name = "image"
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	if format == "" {
		return name
	}
	return name + "." + format
}
