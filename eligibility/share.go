package eligibility

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"mintgate/providers"
)

// shareBaseText is the cast body before any mentions are appended.
const shareBaseText = "I just joined the mint allowlist!"

// maxShareMentions caps how many mutuals get tagged in the share text.
const maxShareMentions = 5

// MutualsSource lists a user's mutual connections (Quotient).
type MutualsSource interface {
	Mutuals(ctx context.Context, fid uint64) ([]providers.Mutual, error)
}

// UsernameResolver resolves current usernames for a batch of fids (Neynar).
type UsernameResolver interface {
	UsersByFIDs(ctx context.Context, fids []uint64) (map[uint64]string, error)
}

// ShareMention is one tagged mutual, in the order it appears in the text.
type ShareMention struct {
	FID      uint64 `json:"fid"`
	Username string `json:"username"`
}

// ShareText is a ready-to-post cast body. Mentions is empty when the caller
// has no usable mutuals.
type ShareText struct {
	Text     string         `json:"text"`
	Mentions []ShareMention `json:"mentions"`
}

// ShareTextBuilder composes share texts that tag the caller's strongest mutual
// connections. Provider failures degrade to the plain base text.
type ShareTextBuilder struct {
	mutuals  MutualsSource
	resolver UsernameResolver
	logger   *slog.Logger
}

// NewShareTextBuilder wires the builder. resolver may be nil, in which case
// the usernames reported by the mutuals source are used as-is.
func NewShareTextBuilder(mutuals MutualsSource, resolver UsernameResolver, logger *slog.Logger) *ShareTextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShareTextBuilder{mutuals: mutuals, resolver: resolver, logger: logger}
}

// Build returns the share text for fid, tagging up to five mutuals ordered by
// combined connection score. It never fails: any provider error yields the
// base text with no mentions.
func (b *ShareTextBuilder) Build(ctx context.Context, fid uint64) ShareText {
	result := ShareText{Text: shareBaseText, Mentions: []ShareMention{}}

	mutuals, err := b.mutuals.Mutuals(ctx, fid)
	if err != nil {
		b.logger.Warn("share text: mutuals lookup failed", "fid", fid, "error", err)
		return result
	}
	if len(mutuals) == 0 {
		return result
	}

	sort.SliceStable(mutuals, func(i, j int) bool {
		return mutuals[i].CombinedScore > mutuals[j].CombinedScore
	})
	if len(mutuals) > maxShareMentions {
		mutuals = mutuals[:maxShareMentions]
	}

	usernames := b.resolveUsernames(ctx, mutuals)
	for _, mutual := range mutuals {
		username := usernames[mutual.FID]
		if username == "" {
			username = mutual.Username
		}
		if username == "" {
			continue
		}
		result.Mentions = append(result.Mentions, ShareMention{FID: mutual.FID, Username: username})
	}
	if len(result.Mentions) == 0 {
		return result
	}

	tags := make([]string, 0, len(result.Mentions))
	for _, mention := range result.Mentions {
		tags = append(tags, "@"+mention.Username)
	}
	result.Text = shareBaseText + " " + strings.Join(tags, " ")
	return result
}

// resolveUsernames refreshes the tagged usernames against the social graph so
// renamed accounts are mentioned by their current handle.
func (b *ShareTextBuilder) resolveUsernames(ctx context.Context, mutuals []providers.Mutual) map[uint64]string {
	if b.resolver == nil {
		return nil
	}
	fids := make([]uint64, 0, len(mutuals))
	for _, mutual := range mutuals {
		fids = append(fids, mutual.FID)
	}
	usernames, err := b.resolver.UsersByFIDs(ctx, fids)
	if err != nil {
		b.logger.Warn("share text: username resolution failed", "error", err)
		return nil
	}
	return usernames
}
