package eligibility

import "time"

// Score provider identifiers as they appear in verdicts.
const (
	ProviderEthos    = "ethos"
	ProviderNeynar   = "neynar"
	ProviderQuotient = "quotient"
)

// Social platform identifiers as they appear in verdicts.
const (
	PlatformX         = "x"
	PlatformFarcaster = "farcaster"
)

// ScoreResult is one provider's opinion. Score is nil when the provider has no
// data for the subject, which is distinct from a zero score and from Error
// being set (provider unreachable or malformed).
type ScoreResult struct {
	Provider  string   `json:"provider"`
	Score     *float64 `json:"score"`
	Threshold float64  `json:"threshold"`
	Passes    bool     `json:"passes"`
	Error     string   `json:"error,omitempty"`
}

// SocialResult is one follow check. Verified distinguishes API-confirmed
// relationships from self-declared ones; the distinction is preserved all the
// way into the verdict.
type SocialResult struct {
	Platform    string `json:"platform"`
	Username    string `json:"username"`
	ProfileURL  string `json:"profileUrl"`
	IsFollowing bool   `json:"isFollowing"`
	Verified    bool   `json:"verified"`
	Error       string `json:"error,omitempty"`
}

// ShareResult is the outcome of verifying a share receipt. Verified requires
// the cast to exist and to be authored by the caller's resolved identity.
type ShareResult struct {
	HasShared bool   `json:"hasShared"`
	CastHash  string `json:"castHash,omitempty"`
	Verified  bool   `json:"verified"`
	Error     string `json:"error,omitempty"`
}

// FarcasterUser is the resolved platform identity carried in the verdict.
type FarcasterUser struct {
	FID         uint64 `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PfpURL      string `json:"pfpUrl"`
}

// Verdict is the complete, explainable outcome of one aggregation. It is
// recomputed fresh on every request and never cached across requests.
type Verdict struct {
	Address              string         `json:"address"`
	IsAlreadyAllowlisted bool           `json:"isAlreadyAllowlisted"`
	FarcasterUser        *FarcasterUser `json:"farcasterUser"`

	Scores                 []ScoreResult `json:"scores"`
	PassesScoreRequirement bool          `json:"passesScoreRequirement"`

	Social                  []SocialResult `json:"social"`
	PassesSocialRequirement bool           `json:"passesSocialRequirement"`

	Share                  *ShareResult `json:"share,omitempty"`
	PassesShareRequirement bool         `json:"passesShareRequirement"`

	IsEligible bool `json:"isEligible"`
}

// CheckInput carries the caller-supplied, self-declared context for one check.
type CheckInput struct {
	// XFollowConfirmed is the caller's self-declaration of the X follow.
	XFollowConfirmed bool
	// FID, when non-zero, is the platform identity known from the miniapp
	// context; it skips the address-based lookup.
	FID uint64
	// CastHash is the share receipt to verify, when one was supplied.
	CastHash string
	// ShareRequired signals that the caller context imposes the share
	// requirement. The bypass is always this explicit input, never inferred.
	ShareRequired bool
}

// JoinResult is the outcome of an add-to-allowlist action.
type JoinResult struct {
	Success            bool   `json:"success"`
	Error              string `json:"error,omitempty"`
	AlreadyAllowlisted bool   `json:"alreadyAllowlisted"`
}

// SocialTarget configures one follow requirement. SelfDeclared marks the
// platform as satisfiable by the caller's unverified declaration; every other
// platform requires API confirmation.
type SocialTarget struct {
	Username     string
	ProfileURL   string
	FID          uint64
	SelfDeclared bool
}

// Thresholds are the fixed per-provider passing scores.
type Thresholds struct {
	Ethos    float64
	Neynar   float64
	Quotient float64
}

// Rules are the deploy-time business rules: score thresholds plus the social
// follow targets. They are not runtime-configurable.
type Rules struct {
	Thresholds Thresholds
	X          SocialTarget
	Farcaster  SocialTarget
	// Timeout bounds one whole aggregation.
	Timeout time.Duration
}

// DefaultRules mirror the deployed thresholds: Ethos scores range 0-2800,
// Neynar and Quotient 0-1.
func DefaultRules() Rules {
	return Rules{
		Thresholds: Thresholds{Ethos: 1300, Neynar: 0.7, Quotient: 0.6},
		X:          SocialTarget{SelfDeclared: true},
		Farcaster:  SocialTarget{},
		Timeout:    15 * time.Second,
	}
}
