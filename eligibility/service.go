package eligibility

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mintgate/allowlist"
	"mintgate/notify"
	"mintgate/observability"
	"mintgate/providers"
)

// Allowlister is the slice of the allowlist service the aggregator needs.
type Allowlister interface {
	IsMember(ctx context.Context, address string) (bool, error)
	Add(ctx context.Context, address string) error
}

// CredibilityClient scores a wallet address directly (Ethos).
type CredibilityClient interface {
	Score(ctx context.Context, address string) (*float64, error)
}

// SocialGraphClient resolves platform identities and relationships (Neynar).
type SocialGraphClient interface {
	UserByAddress(ctx context.Context, address string) (*providers.FarcasterUser, error)
	UserByFID(ctx context.Context, fid uint64) (*providers.FarcasterUser, error)
	IsFollowing(ctx context.Context, viewerFID, targetFID uint64) (*bool, error)
	CastByHash(ctx context.Context, hash string) (*providers.Cast, error)
}

// QualityClient scores a resolved platform identity (Quotient).
type QualityClient interface {
	Score(ctx context.Context, fid uint64) (*float64, error)
}

// Notifier delivers the push notifications the aggregator fires after checks
// and joins. Deliveries are best effort.
type Notifier interface {
	SendEligibilityResult(ctx context.Context, fid uint64, eligible bool) (notify.Result, error)
	SendAllowlistWelcome(ctx context.Context, fid uint64) (notify.Result, error)
}

// Service aggregates the provider opinions and the allowlist state into one
// explainable verdict and guards the join action with a full server-side
// re-validation.
type Service struct {
	allowlist   Allowlister
	credibility CredibilityClient
	social      SocialGraphClient
	quality     QualityClient
	notifier    Notifier
	rules       Rules
	logger      *slog.Logger
}

// NewService wires the aggregator. notifier may be nil when push notifications
// are not configured.
func NewService(list Allowlister, credibility CredibilityClient, social SocialGraphClient, quality QualityClient, notifier Notifier, rules Rules, logger *slog.Logger) (*Service, error) {
	if list == nil {
		return nil, errors.New("eligibility: allowlist required")
	}
	if credibility == nil || social == nil || quality == nil {
		return nil, errors.New("eligibility: all three provider clients required")
	}
	if rules.Timeout <= 0 {
		rules.Timeout = DefaultRules().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		allowlist:   list,
		credibility: credibility,
		social:      social,
		quality:     quality,
		notifier:    notifier,
		rules:       rules,
		logger:      logger,
	}, nil
}

// Check computes a fresh verdict for address. Provider failures degrade the
// affected result to non-passing with an explanatory error; only invalid input
// and allowlist storage failures abort the request.
func (s *Service) Check(ctx context.Context, address string, in CheckInput) (Verdict, error) {
	started := time.Now()
	verdict, err := s.check(ctx, address, in)
	switch {
	case err != nil:
		observability.Gateway().RecordCheck("error", time.Since(started))
	case verdict.IsEligible:
		observability.Gateway().RecordCheck("eligible", time.Since(started))
	default:
		observability.Gateway().RecordCheck("ineligible", time.Since(started))
	}
	if err == nil && in.FID != 0 && verdict.FarcasterUser != nil {
		s.notifyAsync(func(ctx context.Context, n Notifier) {
			if _, err := n.SendEligibilityResult(ctx, verdict.FarcasterUser.FID, verdict.IsEligible); err != nil {
				s.logger.Warn("eligibility notification failed", "fid", verdict.FarcasterUser.FID, "error", err)
			}
		})
	}
	return verdict, err
}

func (s *Service) check(ctx context.Context, address string, in CheckInput) (Verdict, error) {
	normalized, err := allowlist.NormalizeAddress(address)
	if err != nil {
		return Verdict{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.rules.Timeout)
	defer cancel()

	member, err := s.allowlist.IsMember(ctx, normalized)
	if err != nil {
		return Verdict{}, err
	}

	// Credibility scoring needs only the address; identity resolution is the
	// gate for everything else. The two have no data dependency, so they run
	// concurrently.
	var (
		wg         sync.WaitGroup
		ethosScore *float64
		ethosErr   error
		user       *providers.FarcasterUser
		userErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ethosScore, ethosErr = s.credibility.Score(ctx, normalized)
		observability.Gateway().RecordProviderCall(ProviderEthos, ethosErr)
	}()
	go func() {
		defer wg.Done()
		user, userErr = s.resolveUser(ctx, in.FID, normalized)
		observability.Gateway().RecordProviderCall(ProviderNeynar, userErr)
	}()
	wg.Wait()

	verdict := Verdict{
		Address:              normalized,
		IsAlreadyAllowlisted: member,
	}
	verdict.Scores = append(verdict.Scores, scoreResult(ProviderEthos, ethosScore, s.rules.Thresholds.Ethos, ethosErr))

	const noLinkedAccount = "no Farcaster account linked to this address"

	if user != nil {
		verdict.FarcasterUser = &FarcasterUser{
			FID:         user.FID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			PfpURL:      user.PfpURL,
		}
		verdict.Scores = append(verdict.Scores, scoreResult(ProviderNeynar, user.Score, s.rules.Thresholds.Neynar, nil))

		// The identity-dependent checks fan out together once resolution
		// completed.
		var (
			qualityScore *float64
			qualityErr   error
			following    *bool
			followErr    error
			share        *ShareResult
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			qualityScore, qualityErr = s.quality.Score(ctx, user.FID)
			observability.Gateway().RecordProviderCall(ProviderQuotient, qualityErr)
		}()
		go func() {
			defer wg.Done()
			if s.rules.Farcaster.FID == 0 {
				return
			}
			following, followErr = s.social.IsFollowing(ctx, user.FID, s.rules.Farcaster.FID)
			observability.Gateway().RecordProviderCall(ProviderNeynar, followErr)
		}()
		if in.ShareRequired {
			wg.Add(1)
			go func() {
				defer wg.Done()
				share = s.verifyShare(ctx, in.CastHash, user.FID)
			}()
		}
		wg.Wait()

		verdict.Scores = append(verdict.Scores, scoreResult(ProviderQuotient, qualityScore, s.rules.Thresholds.Quotient, qualityErr))
		verdict.Social = append(verdict.Social, s.farcasterFollowResult(following, followErr))
		verdict.Share = share
	} else {
		reason := noLinkedAccount
		if userErr != nil {
			reason = errString(userErr)
		}
		verdict.Scores = append(verdict.Scores,
			ScoreResult{Provider: ProviderNeynar, Threshold: s.rules.Thresholds.Neynar, Error: reason},
			ScoreResult{Provider: ProviderQuotient, Threshold: s.rules.Thresholds.Quotient, Error: reason},
		)
		verdict.Social = append(verdict.Social, SocialResult{
			Platform:   PlatformFarcaster,
			Username:   s.rules.Farcaster.Username,
			ProfileURL: s.rules.Farcaster.ProfileURL,
			Error:      reason,
		})
		if in.ShareRequired {
			verdict.Share = &ShareResult{CastHash: in.CastHash, Error: reason}
		}
	}

	verdict.Social = append(verdict.Social, SocialResult{
		Platform:    PlatformX,
		Username:    s.rules.X.Username,
		ProfileURL:  s.rules.X.ProfileURL,
		IsFollowing: in.XFollowConfirmed,
		Verified:    false,
	})

	verdict.PassesScoreRequirement = anyScorePasses(verdict.Scores)
	verdict.PassesSocialRequirement = s.allSocialPass(verdict.Social)
	verdict.PassesShareRequirement = !in.ShareRequired ||
		(verdict.Share != nil && verdict.Share.HasShared && verdict.Share.Verified)
	verdict.IsEligible = verdict.PassesScoreRequirement &&
		verdict.PassesSocialRequirement &&
		verdict.PassesShareRequirement
	return verdict, nil
}

// Join re-validates eligibility server-side and commits the address on a pass.
// A client-supplied eligibility flag is never trusted. Already-members return
// success without touching the providers.
func (s *Service) Join(ctx context.Context, address string, in CheckInput) (JoinResult, error) {
	normalized, err := allowlist.NormalizeAddress(address)
	if err != nil {
		return JoinResult{}, err
	}
	member, err := s.allowlist.IsMember(ctx, normalized)
	if err != nil {
		return JoinResult{}, err
	}
	if member {
		return JoinResult{Success: true, AlreadyAllowlisted: true}, nil
	}

	verdict, err := s.Check(ctx, normalized, in)
	if err != nil {
		return JoinResult{}, err
	}
	if !verdict.IsEligible {
		return JoinResult{Error: "address does not meet eligibility requirements"}, nil
	}

	switch err := s.allowlist.Add(ctx, normalized); {
	case errors.Is(err, allowlist.ErrAlreadyMember):
		// A concurrent join won the race; report the same idempotent success.
		return JoinResult{Success: true, AlreadyAllowlisted: true}, nil
	case err != nil:
		return JoinResult{}, err
	}

	s.logger.Info("address joined allowlist", "address", normalized)
	if verdict.FarcasterUser != nil {
		fid := verdict.FarcasterUser.FID
		s.notifyAsync(func(ctx context.Context, n Notifier) {
			if _, err := n.SendAllowlistWelcome(ctx, fid); err != nil {
				s.logger.Warn("welcome notification failed", "fid", fid, "error", err)
			}
		})
	}
	return JoinResult{Success: true}, nil
}

func (s *Service) resolveUser(ctx context.Context, fid uint64, address string) (*providers.FarcasterUser, error) {
	if fid != 0 {
		return s.social.UserByFID(ctx, fid)
	}
	return s.social.UserByAddress(ctx, address)
}

func (s *Service) verifyShare(ctx context.Context, castHash string, authorFID uint64) *ShareResult {
	result := &ShareResult{CastHash: castHash}
	if castHash == "" {
		result.Error = "no share receipt supplied"
		return result
	}
	cast, err := s.social.CastByHash(ctx, castHash)
	observability.Gateway().RecordProviderCall(ProviderNeynar, err)
	if err != nil {
		result.Error = errString(err)
		return result
	}
	if cast == nil {
		result.Error = "share cast not found"
		return result
	}
	if cast.AuthorFID != authorFID {
		// A real cast by somebody else is not this caller's share.
		result.Error = "share cast was not authored by the linked Farcaster account"
		return result
	}
	result.HasShared = true
	result.Verified = true
	return result
}

func (s *Service) farcasterFollowResult(following *bool, err error) SocialResult {
	result := SocialResult{
		Platform:   PlatformFarcaster,
		Username:   s.rules.Farcaster.Username,
		ProfileURL: s.rules.Farcaster.ProfileURL,
		Verified:   true,
	}
	switch {
	case s.rules.Farcaster.FID == 0:
		result.Verified = false
		result.Error = "farcaster follow target not configured"
	case err != nil:
		result.Verified = false
		result.Error = errString(err)
	case following == nil:
		result.Verified = false
		result.Error = "could not verify Farcaster follow status"
	default:
		result.IsFollowing = *following
	}
	return result
}

// allSocialPass applies the AND rule. A self-declarable platform accepts an
// unverified follow; every other platform requires API confirmation.
func (s *Service) allSocialPass(results []SocialResult) bool {
	for _, r := range results {
		if !r.IsFollowing {
			return false
		}
		if !r.Verified && !s.selfDeclarable(r.Platform) {
			return false
		}
	}
	return len(results) > 0
}

func (s *Service) selfDeclarable(platform string) bool {
	switch platform {
	case PlatformX:
		return s.rules.X.SelfDeclared
	case PlatformFarcaster:
		return s.rules.Farcaster.SelfDeclared
	}
	return false
}

func scoreResult(provider string, score *float64, threshold float64, err error) ScoreResult {
	result := ScoreResult{Provider: provider, Score: score, Threshold: threshold}
	if err != nil {
		result.Error = errString(err)
		return result
	}
	result.Passes = score != nil && *score >= threshold
	return result
}

// anyScorePasses applies the OR rule; errored providers never pass by default.
func anyScorePasses(scores []ScoreResult) bool {
	for _, s := range scores {
		if s.Passes {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return err.Error()
}

// notifyAsync runs fn detached from the request context so a finished request
// cannot cancel an in-flight notification.
func (s *Service) notifyAsync(fn func(context.Context, Notifier)) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx, s.notifier)
	}()
}
