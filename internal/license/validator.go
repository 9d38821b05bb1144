package license

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultProbeTimeout bounds how long a privileged operation waits for the call-home check.
	DefaultProbeTimeout = 200 * time.Millisecond
	// DefaultCheckCacheTTL is how long an online check result is reused.
	DefaultCheckCacheTTL = time.Hour
)

// OnlineStatus describes what the call-home check contributed to a verification.
type OnlineStatus string

const (
	// OnlineSkipped means no freshness checker is configured.
	OnlineSkipped OnlineStatus = "skipped"
	// OnlineValid means the registry confirmed the license.
	OnlineValid OnlineStatus = "valid"
	// OnlineCached means a recent registry answer was reused.
	OnlineCached OnlineStatus = "cached"
	// OnlineUnreachable means the check failed or timed out; offline trust applies.
	OnlineUnreachable OnlineStatus = "unreachable"
	// OnlineRevoked means the registry reported the license as revoked.
	OnlineRevoked OnlineStatus = "revoked"
	// OnlineDisagreed means the registry answered with a non-revoked failure status.
	OnlineDisagreed OnlineStatus = "disagreed"
)

// FreshnessResult is the registry's answer to a call-home check.
type FreshnessResult struct {
	Status        string    `json:"status"`
	RevokedAt     time.Time `json:"revoked_at,omitempty"`
	RevokedReason string    `json:"revoked_reason,omitempty"`
}

// FreshnessChecker asks the registry for the current state of a token.
type FreshnessChecker interface {
	CheckFreshness(ctx context.Context, token string) (*FreshnessResult, error)
}

// CachedCheck is a persisted call-home result.
type CachedCheck struct {
	TokenID       string    `yaml:"token_id" json:"token_id"`
	Status        string    `yaml:"status" json:"status"`
	RevokedReason string    `yaml:"revoked_reason,omitempty" json:"revoked_reason,omitempty"`
	CheckedAt     time.Time `yaml:"checked_at" json:"checked_at"`
}

// CheckCache persists call-home results between CLI invocations.
type CheckCache interface {
	LoadCheck(tokenID string) (*CachedCheck, bool)
	StoreCheck(check CachedCheck) error
}

// Outcome is the result of a successful local validation.
type Outcome struct {
	Claims        Claims
	ExpiringSoon  bool
	DaysRemaining int
	Online        OnlineStatus
	// Degraded is true when the online check could not complete and the
	// offline result was trusted on its own.
	Degraded bool
}

// LocalValidatorConfig holds configuration for the client-side validator.
type LocalValidatorConfig struct {
	PublicKey    ed25519.PublicKey
	Checker      FreshnessChecker
	Cache        CheckCache
	ProbeTimeout time.Duration
	CacheTTL     time.Duration
	WarnWindow   time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

// LocalValidator verifies license tokens before privileged CLI operations.
// The offline check is authoritative; the online check can only add a revocation.
type LocalValidator struct {
	publicKey    ed25519.PublicKey
	checker      FreshnessChecker
	cache        CheckCache
	probeTimeout time.Duration
	cacheTTL     time.Duration
	warnWindow   time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewLocalValidator creates a LocalValidator.
func NewLocalValidator(cfg LocalValidatorConfig) (*LocalValidator, error) {
	if len(cfg.PublicKey) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	v := &LocalValidator{
		publicKey:    cfg.PublicKey,
		checker:      cfg.Checker,
		cache:        cfg.Cache,
		probeTimeout: cfg.ProbeTimeout,
		cacheTTL:     cfg.CacheTTL,
		warnWindow:   cfg.WarnWindow,
		logger:       cfg.Logger.With().Str("component", "license_validator").Logger(),
		now:          cfg.Now,
	}
	if v.probeTimeout <= 0 {
		v.probeTimeout = DefaultProbeTimeout
	}
	if v.cacheTTL <= 0 {
		v.cacheTTL = DefaultCheckCacheTTL
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v, nil
}

// Check validates key for an operation that requires the given tier.
func (v *LocalValidator) Check(ctx context.Context, key string, required Tier) (*Outcome, error) {
	if key == "" {
		return nil, ErrMissingKey
	}

	verification, err := VerifyOffline(key, v.publicKey, VerifyOptions{Now: v.now(), WarnWindow: v.warnWindow})
	if err != nil {
		return nil, err
	}
	claims := verification.Claims

	if err := RequireTier(claims.Tier, required); err != nil {
		return nil, err
	}

	outcome := &Outcome{
		Claims:        claims,
		ExpiringSoon:  verification.ExpiringSoon,
		DaysRemaining: verification.DaysRemaining,
		Online:        OnlineSkipped,
	}
	if verification.ExpiringSoon {
		v.logger.Warn().
			Time("expires_at", claims.ExpiresAt).
			Int("days_remaining", verification.DaysRemaining).
			Msg("license expires soon")
	}

	if v.checker == nil {
		return outcome, nil
	}

	tokenID := claims.TokenID.String()
	if cached, ok := v.loadFresh(tokenID); ok {
		if cached.Status == string(ReasonRevoked) {
			return nil, &RevokedError{TokenID: tokenID, Reason: cached.RevokedReason}
		}
		outcome.Online = OnlineCached
		return outcome, nil
	}

	result, err := v.probe(ctx, key)
	if err != nil {
		v.logger.Warn().Err(err).Str("token_id", tokenID).
			Msg("license server unreachable, continuing with offline verification")
		outcome.Online = OnlineUnreachable
		outcome.Degraded = true
		return outcome, nil
	}

	v.storeCheck(tokenID, result)

	switch result.Status {
	case "valid":
		outcome.Online = OnlineValid
	case string(ReasonRevoked):
		return nil, &RevokedError{TokenID: tokenID, Reason: result.RevokedReason, RevokedAt: result.RevokedAt}
	default:
		v.logger.Warn().Str("status", result.Status).Str("token_id", tokenID).
			Msg("license server disagrees with offline verification")
		outcome.Online = OnlineDisagreed
	}
	return outcome, nil
}

// probe runs the call-home check in its own goroutine and waits at most probeTimeout.
func (v *LocalValidator) probe(ctx context.Context, key string) (*FreshnessResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, v.probeTimeout)
	defer cancel()

	type answer struct {
		result *FreshnessResult
		err    error
	}
	done := make(chan answer, 1)
	go func() {
		result, err := v.checker.CheckFreshness(probeCtx, key)
		done <- answer{result: result, err: err}
	}()

	select {
	case a := <-done:
		if a.err == nil && a.result == nil {
			return nil, errors.New("empty freshness response")
		}
		return a.result, a.err
	case <-probeCtx.Done():
		return nil, probeCtx.Err()
	}
}

func (v *LocalValidator) loadFresh(tokenID string) (*CachedCheck, bool) {
	if v.cache == nil {
		return nil, false
	}
	cached, ok := v.cache.LoadCheck(tokenID)
	if !ok || cached == nil {
		return nil, false
	}
	if v.now().Sub(cached.CheckedAt) > v.cacheTTL {
		return nil, false
	}
	return cached, true
}

func (v *LocalValidator) storeCheck(tokenID string, result *FreshnessResult) {
	if v.cache == nil {
		return
	}
	err := v.cache.StoreCheck(CachedCheck{
		TokenID:       tokenID,
		Status:        result.Status,
		RevokedReason: result.RevokedReason,
		CheckedAt:     v.now(),
	})
	if err != nil {
		v.logger.Debug().Err(err).Msg("failed to cache license check")
	}
}
