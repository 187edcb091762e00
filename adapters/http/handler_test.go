package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/adapters/clock"
	"github.com/shrinkix/quotagate/adapters/engine"
	"github.com/shrinkix/quotagate/adapters/hasher"
	apihttp "github.com/shrinkix/quotagate/adapters/http"
	"github.com/shrinkix/quotagate/adapters/idgen"
	"github.com/shrinkix/quotagate/adapters/memory"
	"github.com/shrinkix/quotagate/adapters/random"
	"github.com/shrinkix/quotagate/app"
	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/pkg/jsonapi"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

const rawKey = "shx_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type testStores struct {
	clock       *clock.Fake
	accounts    *memory.AccountStore
	credentials *memory.CredentialStore
	catalogs    *app.CatalogHolder
	ledger      *app.CreditLedger
}

func setupTestHandler(t *testing.T) (http.Handler, *testStores) {
	t.Helper()
	return setupTestHandlerWith(t, apihttp.HandlerConfig{})
}

func setupTestHandlerWith(t *testing.T, cfg apihttp.HandlerConfig) (http.Handler, *testStores) {
	t.Helper()

	logger := zerolog.Nop()
	s := &testStores{
		clock:       clock.NewFake(baseTime),
		accounts:    memory.NewAccountStore(),
		credentials: memory.NewCredentialStore(),
		catalogs:    app.DefaultCatalogHolder(),
	}
	guests := memory.NewGuestLedger(memory.GuestLedgerConfig{Clock: s.clock})
	rateLimits := memory.NewRateLimitStore(memory.RateLimitConfig{})
	t.Cleanup(func() {
		guests.Close()
		rateLimits.Close()
	})

	resolver := app.NewCredentialResolver(app.ResolverDeps{
		Accounts:    s.accounts,
		Credentials: s.credentials,
		Hasher:      hasher.Fake{},
		Clock:       s.clock,
		Logger:      logger,
	})
	s.ledger = app.NewCreditLedger(app.LedgerDeps{
		Accounts: s.accounts,
		Credits:  s.accounts,
		Catalogs: s.catalogs,
		Clock:    s.clock,
		IDGen:    idgen.NewSequential(idgen.PrefixPurchase),
		Logger:   logger,
	})
	enforcer := app.NewQuotaEnforcer(app.EnforcerDeps{
		Accounts: s.accounts,
		Ledger:   s.ledger,
		Catalogs: s.catalogs,
		Clock:    s.clock,
		Logger:   logger,
	})
	recorder := app.NewUsageRecorder(app.RecorderDeps{
		Accounts: s.accounts,
		Ledger:   s.ledger,
		Catalogs: s.catalogs,
		Clock:    s.clock,
		Logger:   logger,
	})
	accounts := app.NewAccountService(app.AccountDeps{
		Accounts:    s.accounts,
		Credentials: s.credentials,
		Ledger:      s.ledger,
		Catalogs:    s.catalogs,
		Hasher:      hasher.Fake{},
		Random:      random.NewFake(),
		Clock:       s.clock,
		AccountIDs:  idgen.NewSequential(idgen.PrefixAccount),
		KeyIDs:      idgen.NewSequential(idgen.PrefixCredential),
		Logger:      logger,
	}, app.AccountConfig{})
	compress := app.NewCompressService(app.CompressDeps{
		Resolver:  resolver,
		Enforcer:  enforcer,
		Recorder:  recorder,
		Guests:    app.NewGuestQuota(guests, s.clock, nil, 2),
		Annotator: app.NewRateLimitAnnotator(rateLimits, s.clock, logger),
		Catalogs:  s.catalogs,
		Prober:    engine.HeaderProber{},
		Processor: engine.NewLocal(nil),
		Clock:     s.clock,
		Logger:    logger,
	})

	h := apihttp.NewHandler(apihttp.HandlerDeps{
		Compress: compress,
		Resolver: resolver,
		Accounts: accounts,
		Ledger:   s.ledger,
		Catalogs: s.catalogs,
		Clock:    s.clock,
		Logger:   logger,
	}, cfg)
	health := apihttp.NewHealthHandler(nil)
	return apihttp.NewRouter(h, health, logger, apihttp.RouterConfig{Version: "test"}), s
}

func (s *testStores) seed(t *testing.T, a account.Account) {
	t.Helper()
	p, ok := s.catalogs.Plans().Get(a.PlanID)
	if !ok {
		t.Fatalf("unknown plan %s", a.PlanID)
	}
	a.CycleCadence = p.Cadence
	a.CycleStart = quota.CycleStart(p.Cadence, baseTime)
	a.ResetAt = quota.NextReset(p.Cadence, baseTime)
	if err := s.accounts.Create(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	err := s.credentials.Create(context.Background(), credential.Credential{
		ID:          "cred-" + a.ID,
		AccountID:   a.ID,
		Fingerprint: credential.Fingerprint(rawKey),
		Hash:        []byte(rawKey),
		CreatedAt:   baseTime.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed key: %v", err)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// uploadRequest builds a multipart image job.
func uploadRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(data)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest("POST", path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "203.0.113.7:4411"
	return req
}

func decodeDoc(t *testing.T, body io.Reader) jsonapi.Document {
	t.Helper()
	var doc jsonapi.Document
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	return doc
}

func firstError(t *testing.T, rec *httptest.ResponseRecorder) jsonapi.Error {
	t.Helper()
	doc := decodeDoc(t, rec.Body)
	if len(doc.Errors) == 0 {
		t.Fatalf("expected error document, got %s", rec.Body.String())
	}
	return doc.Errors[0]
}

func TestOptimize_ProcessesImage(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "pro"})

	req := uploadRequest(t, "/v1/optimize", "photo.png", pngBytes(t, 64, 32), map[string]string{
		"resize": `{"width":32}`,
		"format": "jpg",
	})
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %s, want image/jpeg", got)
	}
	if got := rec.Header().Get("X-Operations"); got != "compress,resize,convert" {
		t.Errorf("X-Operations = %s", got)
	}
	if got := rec.Header().Get("X-Image-Width"); got != "32" {
		t.Errorf("X-Image-Width = %s, want 32", got)
	}
	if got := rec.Header().Get("X-Quota-Used"); got != "0" {
		t.Errorf("X-Quota-Used = %s, want 0 (evaluated before recording)", got)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("X-RateLimit-Limit = %s, want 2", rec.Header().Get("X-RateLimit-Limit"))
	}
	if !strings.HasSuffix(rec.Header().Get("Content-Disposition"), `"photo.jpeg"`) {
		t.Errorf("Content-Disposition = %s", rec.Header().Get("Content-Disposition"))
	}

	a, _ := stores.accounts.Get(context.Background(), "acct-1")
	if a.MonthlyUsage != 1 {
		t.Errorf("MonthlyUsage = %d, want 1", a.MonthlyUsage)
	}
}

func TestOptimize_OperationCeiling(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter"})

	req := uploadRequest(t, "/v1/optimize", "photo.png", pngBytes(t, 8, 8), map[string]string{
		"resize": `{"width":4,"height":4,"fit":"crop"}`,
		"format": "jpeg",
	})
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	e := firstError(t, rec)
	if e.Code != "operation_limit_exceeded" {
		t.Errorf("code = %s", e.Code)
	}
	if e.Meta["requested"] != float64(4) || e.Meta["allowed"] != float64(2) {
		t.Errorf("meta = %v, want requested 4 allowed 2", e.Meta)
	}
}

func TestCompress_APITierExceededIs429(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter", MonthlyUsage: 2000})

	req := uploadRequest(t, "/api/compress", "a.png", pngBytes(t, 4, 4), nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "1" || rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Errorf("denied response rate-limit headers = %v", rec.Header())
	}
	e := firstError(t, rec)
	if e.Meta["used"] != float64(2000) || e.Meta["limit"] != float64(2000) {
		t.Errorf("meta = %v", e.Meta)
	}
	if _, ok := e.Meta["reset_at"]; !ok {
		t.Error("meta missing reset_at")
	}
}

func TestCompress_WebTierExceededIs403(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "free", DailyUsage: 20})

	req := uploadRequest(t, "/api/compress", "a.png", pngBytes(t, 4, 4), nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if e := firstError(t, rec); e.Code != quota.ReasonDailyLimit {
		t.Errorf("code = %s, want %s", e.Code, quota.ReasonDailyLimit)
	}
}

func TestOptimize_SoftModeFlagsOverage(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter", MonthlyUsage: 2000})

	req := uploadRequest(t, "/v1/optimize", "a.png", pngBytes(t, 4, 4), nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Quota-Exceeded") != "true" {
		t.Error("expected X-Quota-Exceeded")
	}
	if rec.Header().Get("X-Quota-Pool") != string(account.PoolOverflow) {
		t.Errorf("X-Quota-Pool = %s", rec.Header().Get("X-Quota-Pool"))
	}
}

func TestOptimize_HardModeConfigured(t *testing.T) {
	handler, stores := setupTestHandlerWith(t, apihttp.HandlerConfig{APIMode: quota.EnforceHard})
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter", MonthlyUsage: 2000})

	req := uploadRequest(t, "/v1/optimize", "a.png", pngBytes(t, 4, 4), nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestCompress_GuestAllowance(t *testing.T) {
	handler, _ := setupTestHandler(t)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, uploadRequest(t, "/api/compress", "a.png", pngBytes(t, 4, 4), nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
		if got := rec.Header().Get("X-Guest-Remaining"); got != strconv.Itoa(1-i) {
			t.Errorf("request %d X-Guest-Remaining = %s", i, got)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, uploadRequest(t, "/api/compress", "a.png", pngBytes(t, 4, 4), nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if e := firstError(t, rec); e.Code != "guest_limit_reached" {
		t.Errorf("code = %s", e.Code)
	}
}

func TestCompress_GuestIgnoresUntrustedForwardedFor(t *testing.T) {
	handler, _ := setupTestHandler(t)

	for i := 0; i < 6; i++ {
		req := uploadRequest(t, "/api/compress", "a.png", pngBytes(t, 4, 4), nil)
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i+1))
		req.Header.Set("X-Real-IP", "198.51.100.200")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		want := http.StatusOK
		if i >= 2 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("request %d status = %d, want %d", i, rec.Code, want)
		}
		if rec.Header().Get("X-RateLimit-Limit") == "" {
			t.Errorf("request %d missing X-RateLimit-Limit", i)
		}
	}
}

func TestCompress_GuestBehindTrustedProxy(t *testing.T) {
	handler, _ := setupTestHandlerWith(t, apihttp.HandlerConfig{
		TrustedProxies: []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")},
	})

	send := func(xff string) int {
		req := uploadRequest(t, "/api/compress", "a.png", pngBytes(t, 4, 4), nil)
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// A client-supplied leftmost entry does not change the key.
	for i, xff := range []string{"10.9.9.1, 198.51.100.4", "10.9.9.2, 198.51.100.4", "10.9.9.3, 198.51.100.4"} {
		want := http.StatusOK
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if got := send(xff); got != want {
			t.Fatalf("request %d status = %d, want %d", i, got, want)
		}
	}

	// A different client behind the same proxy has its own allowance.
	if got := send("198.51.100.5"); got != http.StatusOK {
		t.Errorf("other client status = %d, want 200", got)
	}
}

func TestCompress_InvalidCredential(t *testing.T) {
	handler, _ := setupTestHandler(t)

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"unknown bearer", "Authorization", "Bearer shx_nope"},
		{"empty bearer", "Authorization", "Bearer "},
		{"unknown scheme", "Authorization", "Digest abc"},
		{"unknown api key", "X-API-Key", "shx_unknown_key_value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := uploadRequest(t, "/api/compress", "a.png", pngBytes(t, 4, 4), nil)
			req.Header.Set(tt.header, tt.value)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate")
			}
		})
	}
}

func TestCompress_UploadViolations(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter"})

	tests := []struct {
		name     string
		filename string
		data     []byte
		status   int
	}{
		{"unsupported format", "anim.gif", pngBytes(t, 4, 4), http.StatusUnsupportedMediaType},
		{"undecodable", "a.png", []byte("not an image"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := uploadRequest(t, "/api/compress", tt.filename, tt.data, nil)
			req.Header.Set("X-API-Key", rawKey)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestOptimize_MalformedFields(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "pro"})

	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"bad resize", map[string]string{"resize": "{"}},
		{"bad quality", map[string]string{"quality": "900"}},
		{"bad metadata", map[string]string{"metadata": "maybe"}},
		{"crop without size", map[string]string{"crop": "true", "width": "10"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := uploadRequest(t, "/v1/optimize", "a.png", pngBytes(t, 4, 4), tt.fields)
			req.Header.Set("X-API-Key", rawKey)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", rec.Code)
			}
		})
	}
}

func TestOptimize_MissingImage(t *testing.T) {
	handler, _ := setupTestHandler(t)

	req := httptest.NewRequest("POST", "/v1/optimize", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestUsage_Summary(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "api-pro", MonthlyUsage: 2500})
	if _, err := stores.ledger.Purchase(context.Background(), "acct-1", "small-boost", "pay_1"); err != nil {
		t.Fatalf("Purchase error: %v", err)
	}

	req := httptest.NewRequest("GET", "/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != jsonapi.ContentType {
		t.Errorf("Content-Type = %s", ct)
	}

	var doc struct {
		Data struct {
			Attributes struct {
				Usage struct {
					Used      int64 `json:"used"`
					Remaining int64 `json:"remaining"`
					Total     int64 `json:"total"`
				} `json:"usage"`
				Plan struct {
					PlanID string `json:"plan_id"`
				} `json:"plan"`
				Addon struct {
					CurrentCredits  int64            `json:"current_credits"`
					PurchaseHistory []map[string]any `json:"purchase_history"`
				} `json:"addon"`
				Cycle struct {
					DaysUntilReset int `json:"days_until_reset"`
				} `json:"cycle"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	attrs := doc.Data.Attributes
	if attrs.Usage.Used != 2500 || attrs.Usage.Total != 6000 || attrs.Usage.Remaining != 3500 {
		t.Errorf("usage = %+v", attrs.Usage)
	}
	if attrs.Plan.PlanID != "api-pro" {
		t.Errorf("plan_id = %s", attrs.Plan.PlanID)
	}
	if attrs.Addon.CurrentCredits != 1000 || len(attrs.Addon.PurchaseHistory) != 1 {
		t.Errorf("addon = %+v", attrs.Addon)
	}
	if attrs.Cycle.DaysUntilReset != 17 {
		t.Errorf("days_until_reset = %d, want 17", attrs.Cycle.DaysUntilReset)
	}
}

func TestUsage_RequiresCredentials(t *testing.T) {
	handler, _ := setupTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/usage", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestUsage_SessionCookie(t *testing.T) {
	handler, stores := setupTestHandler(t)
	expires := baseTime.Add(time.Hour)
	stores.seed(t, account.Account{
		ID: "acct-1", Email: "a@example.com", PlanID: "free",
		SessionToken: "sess-token", SessionExpiresAt: &expires,
	})

	req := httptest.NewRequest("GET", "/v1/usage", nil)
	req.AddCookie(&http.Cookie{Name: apihttp.SessionCookie, Value: "sess-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func purchase(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/credits/purchase", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPurchaseCredits(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter", AddonCredits: 200})

	rec := purchase(t, handler, `{"addonType":"growth-boost","paymentReference":"pay_1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	doc := decodeDoc(t, rec.Body)
	data, _ := doc.Data.(map[string]any)
	attrs, _ := data["attributes"].(map[string]any)
	if attrs["current_credits"] != float64(5200) {
		t.Errorf("current_credits = %v, want 5200", attrs["current_credits"])
	}
}

func TestPurchaseCredits_Errors(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "business", AddonCredits: 45000})

	if rec := purchase(t, handler, `{"addonType":"small-boost","paymentReference":"pay_dup"}`); rec.Code != http.StatusOK {
		t.Fatalf("seed purchase status = %d", rec.Code)
	}

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"invalid json", `{`, http.StatusBadRequest, "bad_request"},
		{"missing addon", `{"paymentReference":"p"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"unknown addon", `{"addonType":"mega","paymentReference":"p"}`, http.StatusBadRequest, "invalid_addon"},
		{"missing payment", `{"addonType":"small-boost"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"duplicate payment", `{"addonType":"small-boost","paymentReference":"pay_dup"}`, http.StatusConflict, "conflict"},
		{"over cap", `{"addonType":"scale-boost","paymentReference":"p2"}`, http.StatusUnprocessableEntity, "credit_cap_exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := purchase(t, handler, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if e := firstError(t, rec); e.Code != tt.code {
				t.Errorf("code = %s, want %s", e.Code, tt.code)
			}
		})
	}
}

func TestCreditHistory_Paginates(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "pro"})
	for _, ref := range []string{"p1", "p2", "p3"} {
		if _, err := stores.ledger.Purchase(context.Background(), "acct-1", "small-boost", ref); err != nil {
			t.Fatalf("Purchase error: %v", err)
		}
	}

	req := httptest.NewRequest("GET", "/v1/credits/history?page[number]=2&page[size]=2", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	doc := decodeDoc(t, rec.Body)
	items, _ := doc.Data.([]any)
	if len(items) != 1 {
		t.Errorf("page 2 items = %d, want 1", len(items))
	}
	if doc.Meta["total"] != float64(3) {
		t.Errorf("meta total = %v, want 3", doc.Meta["total"])
	}
}

func TestAddons_ByPlan(t *testing.T) {
	handler, stores := setupTestHandler(t)
	stores.seed(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "free"})

	req := httptest.NewRequest("GET", "/v1/addons", nil)
	req.Header.Set("X-API-Key", rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	doc := decodeDoc(t, rec.Body)
	items, _ := doc.Data.([]any)
	if len(items) != 0 {
		t.Errorf("free plan addons = %d, want 0", len(items))
	}
}

func TestPlans_ListsCatalog(t *testing.T) {
	handler, _ := setupTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/plans", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	doc := decodeDoc(t, rec.Body)
	items, _ := doc.Data.([]any)
	if want := len(app.DefaultCatalogHolder().Plans().List()); len(items) != want {
		t.Errorf("plans = %d, want %d", len(items), want)
	}
}
