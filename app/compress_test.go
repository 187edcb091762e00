package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shrinkix/quotagate/app"
	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/guest"
	"github.com/shrinkix/quotagate/domain/operation"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/domain/upload"
	"github.com/shrinkix/quotagate/ports"
)

func TestCompress_AccountRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "api-pro"})
	env.seedKey(t, "cred-1", "acct-1", testKey)

	res, err := env.compress.Handle(ctx, app.CompressRequest{
		Credentials: credential.Inbound{APIKey: testKey},
		Filename:    "photo.png",
		Data:        testPNG(t, 64, 32),
		Operations:  operation.Request{Width: 32},
		Mode:        quota.EnforceHard,
	})
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if res.Output.Width != 32 || res.Output.Height != 16 {
		t.Errorf("output = %dx%d, want 32x16", res.Output.Width, res.Output.Height)
	}
	if res.Cost != 2 {
		t.Errorf("Cost = %d, want 2", res.Cost)
	}
	if res.Pool != account.PoolBase {
		t.Errorf("Pool = %s, want base", res.Pool)
	}
	if res.RateLimit == nil || res.RateLimit.Limit != 2 || res.RateLimit.Remaining != 1 {
		t.Errorf("RateLimit = %+v", res.RateLimit)
	}
	if got := env.account(t, "acct-1").MonthlyUsage; got != 1 {
		t.Errorf("MonthlyUsage = %d, want 1", got)
	}
}

func TestCompress_OperationCeiling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter"})
	env.seedKey(t, "cred-1", "acct-1", testKey)

	_, err := env.compress.Handle(ctx, app.CompressRequest{
		Credentials: credential.Inbound{APIKey: testKey},
		Filename:    "photo.png",
		Data:        testPNG(t, 8, 8),
		Operations:  operation.Request{Width: 4, Height: 4, Crop: true, Format: "jpeg"},
	})
	var ceiling *operation.CeilingError
	if !errors.As(err, &ceiling) {
		t.Fatalf("error = %v, want CeilingError", err)
	}
	if ceiling.Requested != 4 || ceiling.Allowed != 2 {
		t.Errorf("ceiling = %d/%d, want 4/2", ceiling.Requested, ceiling.Allowed)
	}
	if got := env.account(t, "acct-1").MonthlyUsage; got != 0 {
		t.Errorf("usage recorded for rejected request: %d", got)
	}
}

func TestCompress_HardDenialStopsBeforeProcessing(t *testing.T) {
	processor := &countingProcessor{}
	env := newTestEnvWith(t, processor)
	ctx := context.Background()
	env.seedAccount(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter", MonthlyUsage: 2000})
	env.seedKey(t, "cred-1", "acct-1", testKey)

	res, err := env.compress.Handle(ctx, app.CompressRequest{
		Credentials: credential.Inbound{APIKey: testKey},
		Filename:    "a.png",
		Data:        testPNG(t, 4, 4),
		Mode:        quota.EnforceHard,
	})
	var exceeded *quota.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("error = %v, want ExceededError", err)
	}
	if processor.calls != 0 {
		t.Errorf("processor called %d times", processor.calls)
	}
	if res.Plan.ID != "starter" {
		t.Errorf("result plan = %s, want starter", res.Plan.ID)
	}
}

func TestCompress_SoftModeProcessesPastLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter", MonthlyUsage: 2000})
	env.seedKey(t, "cred-1", "acct-1", testKey)

	res, err := env.compress.Handle(ctx, app.CompressRequest{
		Credentials: credential.Inbound{APIKey: testKey},
		Filename:    "a.png",
		Data:        testPNG(t, 4, 4),
		Mode:        quota.EnforceSoft,
	})
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if !res.Decision.Allowed || !res.Decision.WouldBlock {
		t.Errorf("decision = %+v, want allowed with WouldBlock", res.Decision)
	}
	if res.Pool != account.PoolOverflow {
		t.Errorf("Pool = %s, want overflow", res.Pool)
	}
}

func TestCompress_UploadCeilings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter"})
	env.seedKey(t, "cred-1", "acct-1", testKey)

	tests := []struct {
		name     string
		filename string
		data     []byte
		op       operation.Request
		code     string
	}{
		{"unsupported format", "anim.gif", testPNG(t, 4, 4), operation.Request{}, upload.CodeUnsupportedFormat},
		{"unsupported target", "a.png", testPNG(t, 4, 4), operation.Request{Format: "avif"}, upload.CodeUnsupportedFormat},
		{"undecodable", "a.png", []byte("garbage"), operation.Request{}, upload.CodeInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.compress.Handle(ctx, app.CompressRequest{
				Credentials: credential.Inbound{APIKey: testKey},
				Filename:    tt.filename,
				Data:        tt.data,
				Operations:  tt.op,
			})
			var v *upload.Violation
			if !errors.As(err, &v) {
				t.Fatalf("error = %v, want Violation", err)
			}
			if v.Code != tt.code {
				t.Errorf("Code = %s, want %s", v.Code, tt.code)
			}
		})
	}
}

func TestCompress_GuestAllowance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := app.CompressRequest{
		ClientIP: "203.0.113.9",
		Filename: "a.png",
		Data:     testPNG(t, 4, 4),
	}

	for i := 1; i <= 3; i++ {
		res, err := env.compress.Handle(ctx, req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if res.Guest == nil || res.Guest.Remaining != 3-i {
			t.Errorf("request %d guest = %+v", i, res.Guest)
		}
		if res.Plan.ID != "free" {
			t.Errorf("guest plan = %s, want free", res.Plan.ID)
		}
	}

	_, err := env.compress.Handle(ctx, req)
	var limitErr *guest.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("error = %v, want guest LimitError", err)
	}

	env.clock.NextDay(0)
	if _, err := env.compress.Handle(ctx, req); err != nil {
		t.Errorf("next day: %v", err)
	}
}

func TestCompress_RejectedGuestJobsAreNotCounted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rejected := app.CompressRequest{
		ClientIP:   "203.0.113.9",
		Filename:   "a.png",
		Data:       testPNG(t, 4, 4),
		Operations: operation.Request{Width: 2},
	}

	for i := 1; i <= 3; i++ {
		res, err := env.compress.Handle(ctx, rejected)
		var ceiling *operation.CeilingError
		if !errors.As(err, &ceiling) {
			t.Fatalf("request %d: error = %v, want CeilingError", i, err)
		}
		if res.Guest == nil || res.Guest.Remaining != 3 {
			t.Errorf("request %d guest = %+v, want 3 remaining", i, res.Guest)
		}
	}

	valid := rejected
	valid.Operations = operation.Request{}
	res, err := env.compress.Handle(ctx, valid)
	if err != nil {
		t.Fatalf("valid request after rejections: %v", err)
	}
	if res.Guest.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", res.Guest.Remaining)
	}
}

func TestCompress_FailedGuestProcessingIsNotCounted(t *testing.T) {
	env := newTestEnvWith(t, &countingProcessor{err: errors.New("engine down")})
	ctx := context.Background()
	req := app.CompressRequest{ClientIP: "203.0.113.9", Filename: "a.png", Data: testPNG(t, 4, 4)}

	for i := 1; i <= 4; i++ {
		_, err := env.compress.Handle(ctx, req)
		var pErr *app.ProcessingError
		if !errors.As(err, &pErr) {
			t.Fatalf("request %d: error = %v, want ProcessingError", i, err)
		}
	}

	res, err := env.guests.Admit(ctx, "203.0.113.9", 3, env.clock.Now())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if res.Count != 1 {
		t.Errorf("Count = %d, want 1", res.Count)
	}
}

func TestCompress_DeniedResponsesCarryRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter", MonthlyUsage: 2000})
	env.seedKey(t, "cred-1", "acct-1", testKey)

	res, err := env.compress.Handle(ctx, app.CompressRequest{
		Credentials: credential.Inbound{APIKey: testKey},
		Filename:    "a.png",
		Data:        testPNG(t, 4, 4),
		Mode:        quota.EnforceHard,
	})
	var exceeded *quota.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("error = %v, want ExceededError", err)
	}
	if res.RateLimit == nil {
		t.Error("account denial has no rate-limit metadata")
	}

	guestReq := app.CompressRequest{ClientIP: "203.0.113.9", Filename: "a.png", Data: testPNG(t, 4, 4)}
	for i := 0; i < 3; i++ {
		if _, err := env.compress.Handle(ctx, guestReq); err != nil {
			t.Fatalf("guest request %d: %v", i, err)
		}
	}
	res, err = env.compress.Handle(ctx, guestReq)
	var limitErr *guest.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("error = %v, want guest LimitError", err)
	}
	if res.RateLimit == nil {
		t.Error("guest denial has no rate-limit metadata")
	}
}

func TestCompress_AuthErrorNeverFallsBackToGuest(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.compress.Handle(context.Background(), app.CompressRequest{
		Credentials: credential.Inbound{Authorization: "Bearer "},
		ClientIP:    "203.0.113.9",
		Filename:    "a.png",
		Data:        testPNG(t, 4, 4),
	})
	var authErr *credential.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
}

func TestCompress_ProcessingFailureRecordsNothing(t *testing.T) {
	processor := &countingProcessor{err: errors.New("engine down")}
	env := newTestEnvWith(t, processor)
	ctx := context.Background()
	env.seedAccount(t, account.Account{ID: "acct-1", Email: "a@example.com", PlanID: "starter"})
	env.seedKey(t, "cred-1", "acct-1", testKey)

	_, err := env.compress.Handle(ctx, app.CompressRequest{
		Credentials: credential.Inbound{APIKey: testKey},
		Filename:    "a.png",
		Data:        testPNG(t, 4, 4),
	})
	var pErr *app.ProcessingError
	if !errors.As(err, &pErr) {
		t.Fatalf("error = %v, want ProcessingError", err)
	}
	if got := env.account(t, "acct-1").MonthlyUsage; got != 0 {
		t.Errorf("MonthlyUsage = %d, want 0", got)
	}
}

type countingProcessor struct {
	calls int
	err   error
}

func (p *countingProcessor) Process(_ context.Context, req ports.ProcessRequest) (ports.ProcessResult, error) {
	p.calls++
	if p.err != nil {
		return ports.ProcessResult{}, p.err
	}
	return ports.ProcessResult{Data: req.Data, Format: "png", ContentType: "image/png", Width: 1, Height: 1}, nil
}
