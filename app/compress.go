package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/guest"
	"github.com/shrinkix/quotagate/domain/operation"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/domain/ratelimit"
	"github.com/shrinkix/quotagate/domain/upload"
	"github.com/shrinkix/quotagate/ports"
)

// CompressRequest is one image job as received at the edge.
type CompressRequest struct {
	Credentials credential.Inbound
	ClientIP    string
	Filename    string
	Data        []byte
	Operations  operation.Request
	Quality     int
	Mode        quota.EnforceMode
}

// CompressResult is the outcome of a job. On error the identity, plan and
// decision fields are filled as far as the request got, so the edge can
// still publish quota metadata.
type CompressResult struct {
	Output       ports.ProcessResult
	Identity     Identity
	Plan         plan.Plan
	Decision     quota.Decision // zero for anonymous callers
	Guest        *guest.Result  // set for anonymous callers
	Cost         int
	Pool         account.Pool
	RateLimit    *ratelimit.Annotation
	OriginalSize int
	Duration     time.Duration
}

// CompressService runs the processing pipeline: resolve credentials,
// enforce quota, check the operation and upload ceilings, process, then
// record usage.
type CompressService struct {
	resolver  *CredentialResolver
	enforcer  *QuotaEnforcer
	recorder  *UsageRecorder
	guests    *GuestQuota
	annotator *RateLimitAnnotator
	catalogs  *CatalogHolder
	prober    ports.Prober
	processor ports.Processor
	clock     ports.Clock
	logger    zerolog.Logger
}

// CompressDeps contains dependencies for CompressService.
type CompressDeps struct {
	Resolver  *CredentialResolver
	Enforcer  *QuotaEnforcer
	Recorder  *UsageRecorder
	Guests    *GuestQuota
	Annotator *RateLimitAnnotator
	Catalogs  *CatalogHolder
	Prober    ports.Prober
	Processor ports.Processor
	Clock     ports.Clock
	Logger    zerolog.Logger
}

// NewCompressService creates a new compress service.
func NewCompressService(deps CompressDeps) *CompressService {
	return &CompressService{
		resolver:  deps.Resolver,
		enforcer:  deps.Enforcer,
		recorder:  deps.Recorder,
		guests:    deps.Guests,
		annotator: deps.Annotator,
		catalogs:  deps.Catalogs,
		prober:    deps.Prober,
		processor: deps.Processor,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
}

// Handle processes one job. Credential resolution and the quota decision
// both complete before any image work starts. A guest admission is given
// back when the job then fails, so only delivered work is counted.
func (s *CompressService) Handle(ctx context.Context, req CompressRequest) (CompressResult, error) {
	start := s.clock.Now()
	res := CompressResult{
		OriginalSize: len(req.Data),
		Cost:         operation.Cost(req.Operations),
	}

	// 1. Resolve credentials (I/O)
	id, err := s.resolver.Resolve(ctx, req.Credentials)
	if err != nil {
		return res, err
	}
	res.Identity = id

	// 2. Quota (I/O): guest allowance or account quota
	if id.Anonymous() {
		res.Plan = s.catalogs.Plans().Default()
		g, err := s.guests.Admit(ctx, req.ClientIP)
		res.Guest = &g
		s.annotate(ctx, &res, "ip:"+req.ClientIP)
		if err != nil {
			return res, err
		}
	} else {
		eval, err := s.enforcer.Check(ctx, id.Account.ID, req.Mode)
		res.Plan = eval.Plan
		res.Decision = eval.Decision
		s.annotate(ctx, &res, "acct:"+id.Account.ID)
		if err != nil {
			return res, err
		}
	}

	// 3-5. Ceilings and processing
	out, err := s.run(ctx, req, res.Plan)
	if err != nil {
		if res.Guest != nil {
			s.releaseGuest(ctx, req.ClientIP, res.Guest)
		}
		var pErr *ProcessingError
		if errors.As(err, &pErr) {
			s.logger.Error().Err(pErr.Err).Str("method", string(id.Method)).Msg("image processing failed")
		}
		return res, err
	}
	res.Output = out

	// 6. Record usage (I/O, detached from client cancellation)
	if !id.Anonymous() {
		res.Pool = s.recorder.Record(ctx, id.Account.ID)
	}

	res.Duration = s.clock.Now().Sub(start)
	s.logger.Debug().
		Str("method", string(id.Method)).
		Str("plan_id", res.Plan.ID).
		Int("cost", res.Cost).
		Int("original_size", res.OriginalSize).
		Int("output_size", len(out.Data)).
		Str("pool", string(res.Pool)).
		Msg("image processed")

	return res, nil
}

// annotate attaches advisory rate-limit metadata once the caller is known,
// whatever the quota outcome.
func (s *CompressService) annotate(ctx context.Context, res *CompressResult, key string) {
	if res.Plan.ID == "" {
		return
	}
	if ann, ok := s.annotator.Annotate(ctx, key, res.Plan.RateLimit); ok {
		res.RateLimit = &ann
	}
}

// run checks the operation and upload ceilings, then processes the image.
func (s *CompressService) run(ctx context.Context, req CompressRequest, p plan.Plan) (ports.ProcessResult, error) {
	if err := operation.Check(req.Operations, p.MaxOperations); err != nil {
		return ports.ProcessResult{}, err
	}
	if err := s.checkUpload(req, p); err != nil {
		return ports.ProcessResult{}, err
	}
	out, err := s.processor.Process(ctx, ports.ProcessRequest{
		Filename:   req.Filename,
		Data:       req.Data,
		Operations: req.Operations,
		Quality:    req.Quality,
	})
	if err != nil {
		return ports.ProcessResult{}, &ProcessingError{Err: err}
	}
	return out, nil
}

// releaseGuest gives back the admission of a failed guest job and corrects
// the published standing. A ledger failure leaves the request counted.
func (s *CompressService) releaseGuest(ctx context.Context, clientID string, g *guest.Result) {
	if err := s.guests.Release(ctx, clientID, *g); err != nil {
		s.logger.Warn().Err(err).Str("client_ip", clientID).Msg("guest admission not released")
		return
	}
	g.Count--
	g.Remaining++
}

func (s *CompressService) checkUpload(req CompressRequest, p plan.Plan) error {
	file := upload.File{Name: req.Filename, Size: int64(len(req.Data))}
	if err := upload.CheckSize(file, p); err != nil {
		return err
	}

	info, err := s.prober.Probe(req.Data)
	if err != nil {
		return upload.Invalid("unable to read image header")
	}
	if err := upload.CheckFormat(file, info.Format, p); err != nil {
		return err
	}
	if req.Operations.Format != "" {
		target := upload.File{Name: "output." + req.Operations.Format}
		if err := upload.CheckFormat(target, "", p); err != nil {
			return err
		}
	}
	return upload.CheckPixels(info.Width, info.Height, p)
}
