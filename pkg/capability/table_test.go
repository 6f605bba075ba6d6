package capability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sutraworks/sutra/pkg/core"
)

func newTestTable(t *testing.T) (*Table, *RootMintToken) {
	t.Helper()
	table, token := NewTable()
	return table, token
}

func TestMintRootAndValidate(t *testing.T) {
	table, token := newTestTable(t)

	h, err := table.MintRoot(token, ResourceRef(0xC0FFEE), KindConsole, PermAll, 1, 100)
	require.NoError(t, err)
	assert.True(t, table.Validate(h, PermRead|PermWrite, 200))

	res, err := table.Resource(h, 200)
	require.NoError(t, err)
	assert.Equal(t, ResourceRef(0xC0FFEE), res)
}

func TestMintRootRequiresToken(t *testing.T) {
	table, _ := newTestTable(t)
	other, otherToken := NewTable()
	_ = other

	_, err := table.MintRoot(nil, 1, KindConsole, PermAll, 1, 0)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	// A token from a different table must not work either.
	_, err = table.MintRoot(otherToken, 1, KindConsole, PermAll, 1, 0)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
}

func TestMintRootSealedFails(t *testing.T) {
	table, token := newTestTable(t)
	table.Seal()

	_, err := table.MintRoot(token, 1, KindConsole, PermAll, 1, 0)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
}

func TestDeriveAttenuation(t *testing.T) {
	table, token := newTestTable(t)
	root, err := table.MintRoot(token, 1, KindGPIO, PermAll, 1, 0)
	require.NoError(t, err)

	child, err := table.Derive(root, PermRead|PermWrite|PermDerive, 0, 10)
	require.NoError(t, err)
	assert.True(t, table.Validate(child, PermRead, 20))
	assert.False(t, table.Validate(child, PermGrant, 20))

	// derive(cap, p) fails iff p ⊄ cap.perms.
	_, err = table.Derive(child, PermRead|PermGrant, 0, 30)
	assert.ErrorIs(t, err, core.ErrAmplification)
}

func TestDeriveRequiresDerivePermission(t *testing.T) {
	table, token := newTestTable(t)
	root, err := table.MintRoot(token, 1, KindGPIO, PermAll, 1, 0)
	require.NoError(t, err)

	leaf, err := table.Derive(root, PermRead, 0, 10)
	require.NoError(t, err)

	_, err = table.Derive(leaf, PermRead, 0, 20)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
}

func TestRevokeCascade(t *testing.T) {
	table, token := newTestTable(t)
	root, err := table.MintRoot(token, 1, KindConsole, PermAll, 1, 0)
	require.NoError(t, err)
	c1, err := table.Derive(root, PermRead|PermWrite|PermDerive, 0, 10)
	require.NoError(t, err)
	c2, err := table.Derive(c1, PermRead, 0, 20)
	require.NoError(t, err)

	statsBefore := table.Stats()
	table.Revoke(root)

	for _, h := range []Handle{root, c1, c2} {
		assert.False(t, table.Validate(h, PermRead, 30))
		assert.ErrorIs(t, table.ValidateErr(h, PermRead, 30), core.ErrUnforgeable)
	}

	// Mint counters unchanged by revocation.
	statsAfter := table.Stats()
	assert.Equal(t, statsBefore["minted"], statsAfter["minted"])
	assert.Equal(t, statsBefore["derived"], statsAfter["derived"])
}

func TestRevokeIdempotent(t *testing.T) {
	table, token := newTestTable(t)
	root, err := table.MintRoot(token, 1, KindConsole, PermAll, 1, 0)
	require.NoError(t, err)

	table.Revoke(root)
	table.Revoke(root) // no panic, no change
	assert.False(t, table.Validate(root, PermRead, 10))
}

func TestExpiry(t *testing.T) {
	table, token := newTestTable(t)
	root, err := table.MintRoot(token, 1, KindSensor, PermAll, 1, 0)
	require.NoError(t, err)

	child, err := table.Derive(root, PermRead, 1000, 10)
	require.NoError(t, err)

	assert.True(t, table.Validate(child, PermRead, 999))
	err = table.ValidateErr(child, PermRead, 1001)
	assert.ErrorIs(t, err, core.ErrUnforgeable)
	assert.True(t, errors.Is(err, core.ErrExpired))
}

func TestTransfer(t *testing.T) {
	table, token := newTestTable(t)
	root, err := table.MintRoot(token, 1, KindConsole, PermAll, 7, 0)
	require.NoError(t, err)

	moved, err := table.Transfer(root, 9, 10)
	require.NoError(t, err)

	// Old handle is dead, new one lives under the new owner.
	assert.False(t, table.Validate(root, PermRead, 20))
	assert.True(t, table.Validate(moved, PermRead, 20))
	owner, err := table.Owner(moved, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), owner)
}

func TestTransferRequiresGrant(t *testing.T) {
	table, token := newTestTable(t)
	root, err := table.MintRoot(token, 1, KindConsole, PermAll, 1, 0)
	require.NoError(t, err)
	child, err := table.Derive(root, PermRead|PermDerive, 0, 5)
	require.NoError(t, err)

	_, err = table.Transfer(child, 2, 10)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
}

func TestNoResourceNeverValidates(t *testing.T) {
	table, token := newTestTable(t)
	h, err := table.MintRoot(token, 0, KindConsole, PermAll, 1, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, table.ValidateErr(h, PermRead, 10), core.ErrNoResource)
}

func TestForgedHandleRejected(t *testing.T) {
	table, token := newTestTable(t)
	h, err := table.MintRoot(token, 1, KindConsole, PermAll, 1, 0)
	require.NoError(t, err)

	// Wrong generation.
	forged := makeHandle(h.slot(), h.gen()+1)
	assert.ErrorIs(t, table.ValidateErr(forged, PermRead, 10), core.ErrUnforgeable)

	// Unknown slot.
	assert.ErrorIs(t, table.ValidateErr(makeHandle(9999, 1), PermRead, 10), core.ErrUnforgeable)
}

func TestCapabilitySet(t *testing.T) {
	table, token := newTestTable(t)
	h, err := table.MintRoot(token, 1, KindSystemHandlerRing, PermAll, 1, 0)
	require.NoError(t, err)

	set := NewSet(table)
	require.NoError(t, set.Add(h, 10))
	assert.True(t, set.Has(KindSystemHandlerRing, 20))
	assert.False(t, set.Has(KindGPIO, 20))

	table.Revoke(h)
	assert.False(t, set.Has(KindSystemHandlerRing, 30))
}

func TestPermissionsString(t *testing.T) {
	assert.Equal(t, "rwxgvd", PermAll.String())
	assert.Equal(t, "r-----", PermRead.String())
}
