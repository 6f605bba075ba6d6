// Package capability implements the unforgeable token table guarding
// every concept-to-resource bridge. Tokens are minted at boot, derived
// with monotonic permission attenuation, and revoked transitively. The
// table is reader-mostly: validation is a lock-shared generation compare
// plus a permission mask intersection.
package capability

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sutraworks/sutra/pkg/core"
)

// Permissions is the capability permission bitset.
type Permissions uint8

const (
	PermRead Permissions = 1 << iota
	PermWrite
	PermExecute
	PermGrant
	PermRevoke
	PermDerive

	// PermAll is every permission bit.
	PermAll Permissions = PermRead | PermWrite | PermExecute | PermGrant | PermRevoke | PermDerive
)

// Contains reports whether p covers all bits of sub.
func (p Permissions) Contains(sub Permissions) bool {
	return p&sub == sub
}

// String renders the bitset as "rwxgvd"-style flags.
func (p Permissions) String() string {
	flags := []struct {
		bit Permissions
		ch  byte
	}{
		{PermRead, 'r'}, {PermWrite, 'w'}, {PermExecute, 'x'},
		{PermGrant, 'g'}, {PermRevoke, 'v'}, {PermDerive, 'd'},
	}
	out := make([]byte, len(flags))
	for i, f := range flags {
		if p&f.bit != 0 {
			out[i] = f.ch
		} else {
			out[i] = '-'
		}
	}
	return string(out)
}

// Kind classifies what a capability authorizes. Handlers declare a
// required kind; the broadcast engine checks it against the caller's
// capability set.
type Kind uint8

const (
	KindNone Kind = iota
	KindConsole
	KindGPIO
	KindSensor
	KindTemperature
	KindSystemHandlerRing
	KindConceptMint
	KindSchedulerControl
	KindSnapshot
	KindIPC
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConsole:
		return "console"
	case KindGPIO:
		return "gpio"
	case KindSensor:
		return "sensor"
	case KindTemperature:
		return "temperature"
	case KindSystemHandlerRing:
		return "system-handler-ring"
	case KindConceptMint:
		return "concept-mint"
	case KindSchedulerControl:
		return "scheduler-control"
	case KindSnapshot:
		return "snapshot"
	case KindIPC:
		return "ipc"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// ResourceRef identifies the external resource a capability guards. The
// zero value is "no resource" and never validates.
type ResourceRef uint64

// Handle is the opaque token handed out by the table: slot index in the
// high 32 bits, issue-time generation in the low 32. Everything outside
// this package treats it as a plain 64-bit value.
type Handle uint64

func makeHandle(slot, gen uint32) Handle {
	return Handle(uint64(slot)<<32 | uint64(gen))
}

func (h Handle) slot() uint32 { return uint32(h >> 32) }
func (h Handle) gen() uint32  { return uint32(h) }

// entry is the internal capability record. The resource field is stored
// XOR-encrypted with the table's boot-random guard key; reads decode on
// access. Integrity hardening, not secrecy.
type entry struct {
	id          uint32
	generation  uint32
	resourceEnc uint64
	perms       Permissions
	kind        Kind
	owner       uint64
	parent      uint32 // 0 = root
	children    []uint32
	createdAt   uint64
	expiresAt   uint64 // 0 = never
	revoked     bool
}

// RootMintToken authorizes MintRoot. It exists only between NewTable and
// Seal; boot code holds it, nothing else ever sees one.
type RootMintToken struct {
	table *Table
}

// Table owns all capability records. Cross-component references are by
// Handle only; the inner records are never given out.
type Table struct {
	mu       sync.RWMutex
	entries  map[uint32]*entry
	nextSlot uint32
	guardKey uint64
	sealed   bool
	bootID   uuid.UUID

	minted  uint64
	derived uint64
	revokes uint64
}

// NewTable creates a capability table with a fresh guard key and returns
// the one-shot root-mint token.
func NewTable() (*Table, *RootMintToken) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// The guard key is integrity hardening; a failed entropy read
		// must not take the system down. Fall back to a fixed key.
		binary.LittleEndian.PutUint64(buf[:], 0x9e3779b97f4a7c15)
	}
	t := &Table{
		entries:  make(map[uint32]*entry),
		nextSlot: 1,
		guardKey: binary.LittleEndian.Uint64(buf[:]),
		bootID:   uuid.New(),
	}
	return t, &RootMintToken{table: t}
}

// Seal ends the boot phase: MintRoot stops working.
func (t *Table) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// MintRoot creates a root capability. Only callable during boot with the
// root-mint token issued by NewTable.
func (t *Table) MintRoot(token *RootMintToken, resource ResourceRef, kind Kind, perms Permissions, owner uint64, now uint64) (Handle, error) {
	if token == nil || token.table != t {
		return 0, fmt.Errorf("%w: bad root-mint token", core.ErrPermissionDenied)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return 0, fmt.Errorf("%w: table sealed, root minting is boot-only", core.ErrPermissionDenied)
	}

	slot := t.nextSlot
	t.nextSlot++
	e := &entry{
		id:          slot,
		generation:  1,
		resourceEnc: uint64(resource) ^ t.guardKey,
		perms:       perms,
		kind:        kind,
		owner:       owner,
		createdAt:   now,
	}
	t.entries[slot] = e
	t.minted++
	return makeHandle(slot, e.generation), nil
}

// Derive creates a child capability with attenuated permissions.
// Fails with Amplification when newPerms is not a subset of the parent's
// and with PermissionDenied when the parent lacks DERIVE.
func (t *Table) Derive(parent Handle, newPerms Permissions, expiresAt uint64, now uint64) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pe, err := t.live(parent, now)
	if err != nil {
		return 0, err
	}
	if !pe.perms.Contains(PermDerive) {
		return 0, fmt.Errorf("%w: parent lacks DERIVE", core.ErrPermissionDenied)
	}
	if !pe.perms.Contains(newPerms) {
		return 0, fmt.Errorf("%w: %v exceeds parent %v", core.ErrAmplification, newPerms, pe.perms)
	}

	slot := t.nextSlot
	t.nextSlot++
	e := &entry{
		id:          slot,
		generation:  1,
		resourceEnc: pe.resourceEnc,
		perms:       newPerms,
		kind:        pe.kind,
		owner:       pe.owner,
		parent:      pe.id,
		createdAt:   now,
		expiresAt:   expiresAt,
	}
	t.entries[slot] = e
	pe.children = append(pe.children, slot)
	t.derived++
	return makeHandle(slot, e.generation), nil
}

// Revoke invalidates a capability and every descendant, depth-first.
// Idempotent: revoking an already-revoked or unknown handle is a no-op.
func (t *Table) Revoke(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h.slot()]
	if !ok || e.revoked {
		return
	}
	t.revokeSubtree(e)
	t.revokes++
}

// revokeSubtree bumps generations depth-first. Caller holds the write
// lock.
func (t *Table) revokeSubtree(e *entry) {
	for _, child := range e.children {
		if ce, ok := t.entries[child]; ok && !ce.revoked {
			t.revokeSubtree(ce)
		}
	}
	e.generation++
	e.revoked = true
}

// Transfer reassigns ownership. Requires GRANT. The old handle is
// invalidated and a fresh one issued to the new owner.
func (t *Table) Transfer(h Handle, newOwner uint64, now uint64) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.live(h, now)
	if err != nil {
		return 0, err
	}
	if !e.perms.Contains(PermGrant) {
		return 0, fmt.Errorf("%w: missing GRANT", core.ErrPermissionDenied)
	}

	e.generation++
	e.owner = newOwner
	return makeHandle(e.id, e.generation), nil
}

// Validate reports whether the handle is live, covers the required
// permissions, and resolves to a resource.
func (t *Table) Validate(h Handle, required Permissions, now uint64) bool {
	return t.ValidateErr(h, required, now) == nil
}

// ValidateErr is Validate with the reason.
func (t *Table) ValidateErr(h Handle, required Permissions, now uint64) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, err := t.live(h, now)
	if err != nil {
		return err
	}
	if !e.perms.Contains(required) {
		return fmt.Errorf("%w: have %v, need %v", core.ErrPermissionDenied, e.perms, required)
	}
	if e.resourceEnc^t.guardKey == 0 {
		return core.ErrNoResource
	}
	return nil
}

// KindOf returns the kind guarded by a live handle.
func (t *Table) KindOf(h Handle, now uint64) (Kind, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, err := t.live(h, now)
	if err != nil {
		return KindNone, err
	}
	return e.kind, nil
}

// Resource resolves the guarded resource of a live handle, decoding the
// pointer guard. The caller must additionally hold the permissions the
// operation needs.
func (t *Table) Resource(h Handle, now uint64) (ResourceRef, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, err := t.live(h, now)
	if err != nil {
		return 0, err
	}
	res := ResourceRef(e.resourceEnc ^ t.guardKey)
	if res == 0 {
		return 0, core.ErrNoResource
	}
	return res, nil
}

// Owner returns the owner of a live handle.
func (t *Table) Owner(h Handle, now uint64) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, err := t.live(h, now)
	if err != nil {
		return 0, err
	}
	return e.owner, nil
}

// live fetches the entry for a handle and checks generation, revocation
// and expiry. Caller holds at least the read lock.
func (t *Table) live(h Handle, now uint64) (*entry, error) {
	e, ok := t.entries[h.slot()]
	if !ok {
		return nil, core.ErrUnforgeable
	}
	if e.revoked {
		return nil, fmt.Errorf("%w: %w", core.ErrUnforgeable, core.ErrRevoked)
	}
	if e.generation != h.gen() {
		return nil, core.ErrUnforgeable
	}
	if e.expiresAt != 0 && e.expiresAt < now {
		return nil, fmt.Errorf("%w: %w", core.ErrUnforgeable, core.ErrExpired)
	}
	return e, nil
}

// Stats returns table statistics.
func (t *Table) Stats() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	live := 0
	for _, e := range t.entries {
		if !e.revoked {
			live++
		}
	}
	return map[string]any{
		"boot_id":     t.bootID.String(),
		"entries":     len(t.entries),
		"live":        live,
		"minted":      t.minted,
		"derived":     t.derived,
		"revocations": t.revokes,
		"sealed":      t.sealed,
	}
}

// Set is a caller-context capability bag: the executor binds one per
// broadcast so handlers can be gated by kind without ever seeing the
// table.
type Set struct {
	mu      sync.RWMutex
	table   *Table
	byKind  map[Kind]Handle
}

// NewSet creates an empty capability set bound to a table.
func NewSet(table *Table) *Set {
	return &Set{table: table, byKind: make(map[Kind]Handle)}
}

// Add stores a handle under its kind. The latest handle per kind wins.
func (s *Set) Add(h Handle, now uint64) error {
	k, err := s.table.KindOf(h, now)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.byKind[k] = h
	s.mu.Unlock()
	return nil
}

// Has reports whether the set holds a live capability of the kind with
// at least EXECUTE permission.
func (s *Set) Has(k Kind, now uint64) bool {
	s.mu.RLock()
	h, ok := s.byKind[k]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return s.table.Validate(h, PermExecute, now)
}

// Handle returns the stored handle for a kind, if any.
func (s *Set) Handle(k Kind) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.byKind[k]
	return h, ok
}
