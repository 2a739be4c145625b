package allowlist_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"mintgate/allowlist"
	"mintgate/storage"
)

type failingStore struct {
	err error
}

func (f *failingStore) Contains(context.Context, string) (bool, error) { return false, f.err }
func (f *failingStore) Add(context.Context, string) (bool, error)      { return false, f.err }
func (f *failingStore) Members(context.Context) ([]string, error)      { return nil, f.err }

func newTestService(t *testing.T) *allowlist.Service {
	t.Helper()
	svc, err := allowlist.NewService(storage.NewMemory())
	require.NoError(t, err)
	return svc
}

func TestNormalizeAddress(t *testing.T) {
	got, err := allowlist.NormalizeAddress("  0xAbCdEf0123456789abcdef0123456789ABCDEF01 ")
	require.NoError(t, err)
	require.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", got)

	for _, raw := range []string{"", "not-an-address", "0x1234", "0xzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"} {
		_, err := allowlist.NormalizeAddress(raw)
		require.ErrorIs(t, err, allowlist.ErrInvalidAddress, "input %q", raw)
	}
}

func TestIsMemberCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.Add(ctx, "0xAbCdEf0123456789abcdef0123456789ABCDEF01"))

	member, err := svc.IsMember(ctx, "0xABCDEF0123456789ABCDEF0123456789ABCDEF01")
	require.NoError(t, err)
	require.True(t, member)

	member, err = svc.IsMember(ctx, "0x0000000000000000000000000000000000000002")
	require.NoError(t, err)
	require.False(t, member)
}

func TestAddIsIdempotentViaSentinel(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	addr := "0x0000000000000000000000000000000000000001"

	require.NoError(t, svc.Add(ctx, addr))
	err := svc.Add(ctx, addr)
	require.ErrorIs(t, err, allowlist.ErrAlreadyMember)

	// Differently cased input still targets the same member.
	err = svc.Add(ctx, "0x0000000000000000000000000000000000000001")
	require.ErrorIs(t, err, allowlist.ErrAlreadyMember)
}

func TestProofForNonMember(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Proof(ctx, "0x0000000000000000000000000000000000000001")
	require.ErrorIs(t, err, allowlist.ErrNotAMember)
}

func TestProofVerifiesAgainstRoot(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	addrs := []string{
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
		"0x0000000000000000000000000000000000000003",
	}
	for _, addr := range addrs {
		require.NoError(t, svc.Add(ctx, addr))
	}

	root, err := svc.Root(ctx)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, root)

	for _, addr := range addrs {
		siblings, err := svc.Proof(ctx, addr)
		require.NoError(t, err)
		leaf := allowlist.LeafHash(common.HexToAddress(addr))
		require.True(t, allowlist.VerifyProof(leaf, siblings, root), "proof for %s", addr)
	}
}

func TestRootChangesOnAdd(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	empty, err := svc.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, empty)

	require.NoError(t, svc.Add(ctx, "0x0000000000000000000000000000000000000001"))
	first, err := svc.Root(ctx)
	require.NoError(t, err)
	require.NotEqual(t, empty, first)

	// A repeat read without writes serves the cached tree.
	again, err := svc.Root(ctx)
	require.NoError(t, err)
	require.Equal(t, first, again)

	require.NoError(t, svc.Add(ctx, "0x0000000000000000000000000000000000000002"))
	second, err := svc.Root(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestStorageFailuresPropagate(t *testing.T) {
	ctx := context.Background()
	svc, err := allowlist.NewService(&failingStore{err: errors.New("connection refused")})
	require.NoError(t, err)
	addr := "0x0000000000000000000000000000000000000001"

	_, err = svc.IsMember(ctx, addr)
	require.ErrorIs(t, err, allowlist.ErrStorageUnavailable)

	err = svc.Add(ctx, addr)
	require.ErrorIs(t, err, allowlist.ErrStorageUnavailable)

	_, err = svc.Root(ctx)
	require.ErrorIs(t, err, allowlist.ErrStorageUnavailable)
}
