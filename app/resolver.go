package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/ports"
)

// Identity is the outcome of credential resolution.
type Identity struct {
	Account      account.Account
	Method       credential.Method
	CredentialID string // empty for session and anonymous callers
}

// Anonymous reports whether no account was resolved.
func (id Identity) Anonymous() bool {
	return id.Method == credential.MethodAnonymous
}

// strategy tries to resolve one credential scheme. handled=false passes
// resolution to the next strategy.
type strategy func(ctx context.Context, in credential.Inbound) (id Identity, handled bool, err error)

// CredentialResolver maps inbound credentials to an account.
// Strategies run in a fixed order and the first one that handles the
// request wins: session cookie, Bearer, X-API-Key, Basic.
type CredentialResolver struct {
	accounts    ports.AccountStore
	credentials ports.CredentialStore
	hasher      ports.Hasher
	clock       ports.Clock
	metrics     ports.Metrics
	logger      zerolog.Logger

	strategies []strategy
}

// ResolverDeps contains dependencies for CredentialResolver.
type ResolverDeps struct {
	Accounts    ports.AccountStore
	Credentials ports.CredentialStore
	Hasher      ports.Hasher
	Clock       ports.Clock
	Metrics     ports.Metrics
	Logger      zerolog.Logger
}

// NewCredentialResolver creates a new resolver.
func NewCredentialResolver(deps ResolverDeps) *CredentialResolver {
	r := &CredentialResolver{
		accounts:    deps.Accounts,
		credentials: deps.Credentials,
		hasher:      deps.Hasher,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
	if r.metrics == nil {
		r.metrics = ports.NopMetrics{}
	}
	r.strategies = []strategy{
		r.fromSession,
		r.checkScheme,
		r.fromBearer,
		r.fromAPIKey,
		r.fromBasic,
	}
	return r
}

// Resolve returns the identity behind a request. Callers that present no
// credential at all resolve as anonymous. A malformed or unknown explicit
// credential is a *credential.AuthError and never falls back to anonymous.
func (r *CredentialResolver) Resolve(ctx context.Context, in credential.Inbound) (Identity, error) {
	for _, try := range r.strategies {
		id, handled, err := try(ctx, in)
		if err != nil {
			var authErr *credential.AuthError
			if errors.As(err, &authErr) {
				r.metrics.AuthFailure(authErr.Reason)
			}
			return Identity{}, err
		}
		if handled {
			return id, nil
		}
	}
	return Identity{Method: credential.MethodAnonymous}, nil
}

// fromSession accepts a session token whose expiry is strictly in the
// future. An expired session is cleared and resolution continues; an
// unknown token is ignored because cookies are ambient.
func (r *CredentialResolver) fromSession(ctx context.Context, in credential.Inbound) (Identity, bool, error) {
	if in.Session == "" {
		return Identity{}, false, nil
	}

	acct, err := r.accounts.GetBySession(ctx, in.Session)
	if errors.Is(err, ports.ErrNotFound) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, persistence("load session", err)
	}

	if acct.SessionValid(in.Session, r.clock.Now()) {
		return Identity{Account: acct, Method: credential.MethodSession}, true, nil
	}

	if err := r.accounts.ClearSession(ctx, acct.ID); err != nil {
		r.logger.Warn().Err(err).Str("account_id", acct.ID).Msg("failed to clear expired session")
	} else {
		r.logger.Debug().Str("account_id", acct.ID).Msg("cleared expired session")
	}
	return Identity{}, false, nil
}

func (r *CredentialResolver) checkScheme(_ context.Context, in credential.Inbound) (Identity, bool, error) {
	return Identity{}, false, credential.CheckScheme(in.Authorization)
}

func (r *CredentialResolver) fromBearer(ctx context.Context, in credential.Inbound) (Identity, bool, error) {
	token, present, err := credential.ParseBearer(in.Authorization)
	if err != nil || !present {
		return Identity{}, false, err
	}
	id, err := r.lookup(ctx, token, credential.MethodBearer)
	return id, true, err
}

func (r *CredentialResolver) fromAPIKey(ctx context.Context, in credential.Inbound) (Identity, bool, error) {
	if in.APIKey == "" {
		return Identity{}, false, nil
	}
	id, err := r.lookup(ctx, in.APIKey, credential.MethodAPIKey)
	return id, true, err
}

func (r *CredentialResolver) fromBasic(ctx context.Context, in credential.Inbound) (Identity, bool, error) {
	key, present, err := credential.ParseBasic(in.Authorization)
	if err != nil || !present {
		return Identity{}, false, err
	}
	id, err := r.lookup(ctx, key, credential.MethodBasic)
	return id, true, err
}

// lookup narrows candidates by fingerprint, then compares the full key.
func (r *CredentialResolver) lookup(ctx context.Context, rawKey string, method credential.Method) (Identity, error) {
	noMatch := &credential.AuthError{Method: method, Reason: credential.ReasonNoMatch}

	candidates, err := r.credentials.FindByFingerprint(ctx, credential.Fingerprint(rawKey))
	if err != nil {
		return Identity{}, persistence("find credential", err)
	}

	for _, c := range candidates {
		if !c.Usable() || !r.matches(c, rawKey) {
			continue
		}

		acct, err := r.accounts.Get(ctx, c.AccountID)
		if errors.Is(err, ports.ErrNotFound) {
			r.logger.Warn().Str("credential_id", c.ID).Msg("credential references missing account")
			return Identity{}, noMatch
		}
		if err != nil {
			return Identity{}, persistence("load account", err)
		}

		if err := r.credentials.Touch(ctx, c.ID, r.clock.Now()); err != nil {
			r.logger.Warn().Err(err).Str("credential_id", c.ID).Msg("failed to stamp credential last use")
		}
		return Identity{Account: acct, Method: method, CredentialID: c.ID}, nil
	}
	return Identity{}, noMatch
}

func (r *CredentialResolver) matches(c credential.Credential, rawKey string) bool {
	if c.IsLegacy() {
		return c.MatchesLegacy(rawKey)
	}
	return r.hasher.Compare(c.Hash, rawKey)
}
