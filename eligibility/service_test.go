package eligibility_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mintgate/allowlist"
	"mintgate/eligibility"
	"mintgate/providers"
	"mintgate/storage"
)

const (
	testAddress = "0xabc0000000000000000000000000000000000001"
	testFID     = uint64(123)
	targetFID   = uint64(999)
)

type fakeCredibility struct {
	score *float64
	err   error
	calls atomic.Int64
	block bool
}

func (f *fakeCredibility) Score(ctx context.Context, address string) (*float64, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.score, f.err
}

type fakeSocial struct {
	user      *providers.FarcasterUser
	userErr   error
	following *bool
	followErr error
	cast      *providers.Cast
	castErr   error
	calls     atomic.Int64
}

func (f *fakeSocial) UserByAddress(ctx context.Context, address string) (*providers.FarcasterUser, error) {
	f.calls.Add(1)
	return f.user, f.userErr
}

func (f *fakeSocial) UserByFID(ctx context.Context, fid uint64) (*providers.FarcasterUser, error) {
	f.calls.Add(1)
	return f.user, f.userErr
}

func (f *fakeSocial) IsFollowing(ctx context.Context, viewerFID, targetFID uint64) (*bool, error) {
	f.calls.Add(1)
	return f.following, f.followErr
}

func (f *fakeSocial) CastByHash(ctx context.Context, hash string) (*providers.Cast, error) {
	f.calls.Add(1)
	return f.cast, f.castErr
}

type fakeQuality struct {
	score *float64
	err   error
	calls atomic.Int64
}

func (f *fakeQuality) Score(ctx context.Context, fid uint64) (*float64, error) {
	f.calls.Add(1)
	return f.score, f.err
}

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func testRules() eligibility.Rules {
	rules := eligibility.DefaultRules()
	rules.X = eligibility.SocialTarget{Username: "mintproject", ProfileURL: "https://x.com/mintproject", SelfDeclared: true}
	rules.Farcaster = eligibility.SocialTarget{Username: "mintproject", ProfileURL: "https://farcaster.xyz/mintproject", FID: targetFID}
	return rules
}

func linkedUser() *providers.FarcasterUser {
	return &providers.FarcasterUser{FID: testFID, Username: "alice", DisplayName: "Alice", Score: floatPtr(0.2)}
}

func newTestService(t *testing.T, cred *fakeCredibility, social *fakeSocial, quality *fakeQuality) (*eligibility.Service, *allowlist.Service) {
	t.Helper()
	list, err := allowlist.NewService(storage.NewMemory())
	if err != nil {
		t.Fatalf("allowlist service: %v", err)
	}
	svc, err := eligibility.NewService(list, cred, social, quality, nil, testRules(), nil)
	if err != nil {
		t.Fatalf("eligibility service: %v", err)
	}
	return svc, list
}

func TestCheckSingleScorePassSuffices(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(1450)}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(true)}
	quality := &fakeQuality{score: floatPtr(0.1)}
	svc, _ := newTestService(t, cred, social, quality)

	verdict, err := svc.Check(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: true})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !verdict.PassesScoreRequirement {
		t.Fatal("one passing score must satisfy the score requirement")
	}
	if !verdict.PassesSocialRequirement {
		t.Fatalf("social requirement should pass: %+v", verdict.Social)
	}
	if !verdict.IsEligible {
		t.Fatalf("expected eligible verdict: %+v", verdict)
	}
	if verdict.FarcasterUser == nil || verdict.FarcasterUser.FID != testFID {
		t.Fatalf("expected resolved identity, got %+v", verdict.FarcasterUser)
	}
	if len(verdict.Scores) != 3 {
		t.Fatalf("expected all three providers reported, got %d", len(verdict.Scores))
	}
}

func TestCheckProviderErrorDegradesToFail(t *testing.T) {
	cred := &fakeCredibility{err: errors.New("connection reset")}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(true)}
	quality := &fakeQuality{score: floatPtr(0.95)}
	svc, _ := newTestService(t, cred, social, quality)

	verdict, err := svc.Check(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: true})
	if err != nil {
		t.Fatalf("provider failure must not abort the check: %v", err)
	}
	var ethos, quotient *eligibility.ScoreResult
	for i := range verdict.Scores {
		switch verdict.Scores[i].Provider {
		case eligibility.ProviderEthos:
			ethos = &verdict.Scores[i]
		case eligibility.ProviderQuotient:
			quotient = &verdict.Scores[i]
		}
	}
	if ethos == nil || ethos.Passes || ethos.Error == "" {
		t.Fatalf("errored provider must report non-passing with an error: %+v", ethos)
	}
	if quotient == nil || !quotient.Passes {
		t.Fatalf("quotient above threshold must pass: %+v", quotient)
	}
	if !verdict.PassesScoreRequirement {
		t.Fatal("the surviving provider should satisfy the OR rule")
	}
}

func TestCheckAllScoresBelowThreshold(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(100)}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(true)}
	quality := &fakeQuality{score: floatPtr(0.1)}
	svc, _ := newTestService(t, cred, social, quality)

	verdict, err := svc.Check(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: true})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.PassesScoreRequirement || verdict.IsEligible {
		t.Fatalf("all-below-threshold must be ineligible: %+v", verdict)
	}
}

func TestCheckNoLinkedAccount(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(1450)}
	social := &fakeSocial{user: nil}
	quality := &fakeQuality{score: floatPtr(0.95)}
	svc, _ := newTestService(t, cred, social, quality)

	verdict, err := svc.Check(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: true})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.FarcasterUser != nil {
		t.Fatalf("expected no identity, got %+v", verdict.FarcasterUser)
	}
	if quality.calls.Load() != 0 {
		t.Fatal("identity-dependent providers must not be queried without an identity")
	}
	for _, score := range verdict.Scores {
		if score.Provider == eligibility.ProviderEthos {
			continue
		}
		if score.Error == "" || score.Passes {
			t.Fatalf("identity-dependent score must carry an explanation: %+v", score)
		}
	}
	// The Ethos score alone can still satisfy the score rule.
	if !verdict.PassesScoreRequirement {
		t.Fatal("address-keyed scoring must survive a missing identity")
	}
	if verdict.PassesSocialRequirement || verdict.IsEligible {
		t.Fatal("social requirement cannot pass without a verifiable identity")
	}
}

func TestCheckShareAuthorMismatch(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(1450)}
	social := &fakeSocial{
		user:      linkedUser(),
		following: boolPtr(true),
		cast:      &providers.Cast{Hash: "0xdead", AuthorFID: 777},
	}
	quality := &fakeQuality{}
	svc, _ := newTestService(t, cred, social, quality)

	in := eligibility.CheckInput{XFollowConfirmed: true, ShareRequired: true, CastHash: "0xdead"}
	verdict, err := svc.Check(context.Background(), testAddress, in)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.Share == nil {
		t.Fatal("share result missing")
	}
	if verdict.Share.HasShared || verdict.Share.Verified || verdict.Share.Error == "" {
		t.Fatalf("someone else's cast must not count as a share: %+v", verdict.Share)
	}
	if verdict.PassesShareRequirement || verdict.IsEligible {
		t.Fatal("share requirement must fail on author mismatch")
	}
}

func TestCheckShareVerified(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(1450)}
	social := &fakeSocial{
		user:      linkedUser(),
		following: boolPtr(true),
		cast:      &providers.Cast{Hash: "0xdead", AuthorFID: testFID},
	}
	quality := &fakeQuality{}
	svc, _ := newTestService(t, cred, social, quality)

	in := eligibility.CheckInput{XFollowConfirmed: true, ShareRequired: true, CastHash: "0xdead"}
	verdict, err := svc.Check(context.Background(), testAddress, in)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.Share == nil || !verdict.Share.HasShared || !verdict.Share.Verified {
		t.Fatalf("authored cast must verify: %+v", verdict.Share)
	}
	if !verdict.IsEligible {
		t.Fatalf("expected eligible verdict: %+v", verdict)
	}
}

func TestCheckShareNotRequiredBypasses(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(1450)}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(true)}
	quality := &fakeQuality{}
	svc, _ := newTestService(t, cred, social, quality)

	verdict, err := svc.Check(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: true})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.Share != nil {
		t.Fatalf("no share result expected when not required, got %+v", verdict.Share)
	}
	if !verdict.PassesShareRequirement {
		t.Fatal("share requirement must pass when not demanded")
	}
}

func TestCheckXFollowSelfDeclared(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(1450)}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(true)}
	quality := &fakeQuality{}
	svc, _ := newTestService(t, cred, social, quality)

	verdict, err := svc.Check(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: false})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.PassesSocialRequirement || verdict.IsEligible {
		t.Fatal("undeclared X follow must fail the AND rule")
	}
}

func TestCheckFarcasterFollowMissing(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(1450)}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(false)}
	quality := &fakeQuality{}
	svc, _ := newTestService(t, cred, social, quality)

	verdict, err := svc.Check(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: true})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if verdict.PassesSocialRequirement {
		t.Fatal("API-confirmed non-follow must fail the AND rule")
	}
}

func TestCheckInvalidAddress(t *testing.T) {
	svc, _ := newTestService(t, &fakeCredibility{}, &fakeSocial{}, &fakeQuality{})
	if _, err := svc.Check(context.Background(), "nonsense", eligibility.CheckInput{}); !errors.Is(err, allowlist.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestCheckTimeoutRecordedNotDropped(t *testing.T) {
	cred := &fakeCredibility{block: true}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(true)}
	quality := &fakeQuality{score: floatPtr(0.95)}

	list, err := allowlist.NewService(storage.NewMemory())
	if err != nil {
		t.Fatalf("allowlist service: %v", err)
	}
	rules := testRules()
	rules.Timeout = 50 * time.Millisecond
	svc, err := eligibility.NewService(list, cred, social, quality, nil, rules, nil)
	if err != nil {
		t.Fatalf("eligibility service: %v", err)
	}

	verdict, err := svc.Check(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: true})
	if err != nil {
		t.Fatalf("a slow provider must not abort the check: %v", err)
	}
	var ethos *eligibility.ScoreResult
	for i := range verdict.Scores {
		if verdict.Scores[i].Provider == eligibility.ProviderEthos {
			ethos = &verdict.Scores[i]
		}
	}
	if ethos == nil || ethos.Error != "timed out" {
		t.Fatalf("timed-out provider must be reported as such: %+v", ethos)
	}
	if !verdict.PassesScoreRequirement {
		t.Fatal("the fast provider should still satisfy the OR rule")
	}
}

func TestJoinIdempotentForMembers(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(1450)}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(true)}
	quality := &fakeQuality{}
	svc, list := newTestService(t, cred, social, quality)

	if err := list.Add(context.Background(), testAddress); err != nil {
		t.Fatalf("seed member: %v", err)
	}

	result, err := svc.Join(context.Background(), testAddress, eligibility.CheckInput{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !result.Success || !result.AlreadyAllowlisted {
		t.Fatalf("expected idempotent success, got %+v", result)
	}
	if cred.calls.Load() != 0 || social.calls.Load() != 0 || quality.calls.Load() != 0 {
		t.Fatal("a member join must not consult any provider")
	}
}

func TestJoinCommitsEligibleAddress(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(1450)}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(true)}
	quality := &fakeQuality{}
	svc, list := newTestService(t, cred, social, quality)

	result, err := svc.Join(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: true})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !result.Success || result.AlreadyAllowlisted {
		t.Fatalf("expected fresh join success, got %+v", result)
	}
	member, err := list.IsMember(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if !member {
		t.Fatal("joined address must be in the set")
	}
}

func TestJoinRejectsIneligibleAddress(t *testing.T) {
	cred := &fakeCredibility{score: floatPtr(100)}
	social := &fakeSocial{user: linkedUser(), following: boolPtr(true)}
	quality := &fakeQuality{score: floatPtr(0.1)}
	svc, list := newTestService(t, cred, social, quality)

	result, err := svc.Join(context.Background(), testAddress, eligibility.CheckInput{XFollowConfirmed: true})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if result.Success || result.Error == "" {
		t.Fatalf("ineligible join must fail with a reason, got %+v", result)
	}
	member, err := list.IsMember(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if member {
		t.Fatal("ineligible address must not be committed")
	}
}
