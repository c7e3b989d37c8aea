package state

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"

	vmtypes "github.com/annchain/forge/vm/types"
)

var maxLayers = 1024

// Backing is the read-only source of truth behind an overlay: a pre-populated
// genesis or a forked remote chain. The read path must be safe for concurrent
// readers because cloned overlays share one Backing.
type Backing interface {
	// Account returns the balance/nonce/code record for addr, or nil if the
	// address is unknown to the backing.
	Account(addr common.Address) (*vmtypes.Account, error)
	// StorageAt returns the value of one storage slot.
	StorageAt(addr common.Address, key common.Hash) (common.Hash, error)
}

// layer is one revision of overlay mutations plus the logs emitted while it
// was active.
type layer struct {
	accounts map[common.Address]*vmtypes.Account
	logs     []*vmtypes.Log
}

func newLayer() *layer {
	return &layer{accounts: make(map[common.Address]*vmtypes.Account)}
}

// OverlayDB is the cascading store for contract execution. Mutations pile up
// in layers above a read-only Backing; a lookup walks from the top layer to
// the bottom and falls through to the Backing on a full miss, memoizing what
// it fetched. Same mechanism as docker image layers: the Backing is the base
// image and is never written.
//
// Layer 0 is the committed overlay and lives as long as the owning executor.
// Snapshot opens a new layer on top; RevertToSnapshot drops layers.
type OverlayDB struct {
	backing Backing
	layers  []*layer
	// cache memoizes backing reads. Entries are never mutated after insert,
	// so clones may share them.
	cache map[common.Address]*vmtypes.Account
	err   error
}

// NewOverlayDB builds an overlay over the given backing and installs the
// cheatcode sentinel account. The sentinel must always resolve with non-empty
// code so that interpreter-level "has code" checks pass.
func NewOverlayDB(backing Backing) *OverlayDB {
	o := &OverlayDB{
		backing: backing,
		layers:  []*layer{newLayer()},
		cache:   make(map[common.Address]*vmtypes.Account),
	}
	sentinel := vmtypes.NewAccount()
	sentinel.SetCode(vmtypes.CheatcodeCode)
	o.layers[0].accounts[vmtypes.CheatcodeAddress] = sentinel
	return o
}

// Clone makes a cheap overlay-only copy sharing the same backing. Each clone
// diverges independently afterwards; nothing mutable is shared, so clones may
// run on different goroutines. Open revisions are not carried over.
func (o *OverlayDB) Clone() *OverlayDB {
	d := &OverlayDB{
		backing: o.backing,
		layers:  []*layer{newLayer()},
		cache:   make(map[common.Address]*vmtypes.Account, len(o.cache)),
	}
	for addr, acc := range o.layers[0].accounts {
		d.layers[0].accounts[addr] = acc.Copy()
	}
	for addr, acc := range o.cache {
		d.cache[addr] = acc
	}
	return d
}

func (o *OverlayDB) active() *layer {
	return o.layers[len(o.layers)-1]
}

// account walks the layers top to bottom, then the memoized cache, then the
// backing. The returned record must not be mutated by the caller.
func (o *OverlayDB) account(addr common.Address) *vmtypes.Account {
	for i := len(o.layers) - 1; i >= 0; i-- {
		if acc, ok := o.layers[i].accounts[addr]; ok {
			return acc
		}
	}
	if acc, ok := o.cache[addr]; ok {
		return acc
	}
	acc, err := o.backing.Account(addr)
	if err != nil {
		if o.err == nil {
			o.err = err
		}
		return nil
	}
	if acc == nil {
		return nil
	}
	o.cache[addr] = acc
	return acc
}

// mutable returns an account owned by the active layer, copying it up from
// wherever the lookup found it, or creating it fresh on a full miss. All
// writes go through here, so lower layers and the cache stay untouched.
func (o *OverlayDB) mutable(addr common.Address) *vmtypes.Account {
	act := o.active()
	if acc, ok := act.accounts[addr]; ok {
		return acc
	}
	var cp *vmtypes.Account
	if acc := o.account(addr); acc != nil {
		cp = acc.Copy()
	} else {
		cp = vmtypes.NewAccount()
	}
	act.accounts[addr] = cp
	return cp
}

func (o *OverlayDB) CreateAccount(addr common.Address) {
	if o.account(addr) != nil {
		return
	}
	o.active().accounts[addr] = vmtypes.NewAccount()
}

func (o *OverlayDB) SubBalance(addr common.Address, value *big.Int) {
	acc := o.mutable(addr)
	acc.Balance = new(big.Int).Sub(acc.Balance, value)
}

func (o *OverlayDB) AddBalance(addr common.Address, value *big.Int) {
	acc := o.mutable(addr)
	acc.Balance = new(big.Int).Add(acc.Balance, value)
}

func (o *OverlayDB) SetBalance(addr common.Address, value *big.Int) {
	o.mutable(addr).Balance = new(big.Int).Set(value)
}

func (o *OverlayDB) GetBalance(addr common.Address) *big.Int {
	if acc := o.account(addr); acc != nil {
		return new(big.Int).Set(acc.Balance)
	}
	return new(big.Int)
}

func (o *OverlayDB) GetNonce(addr common.Address) uint64 {
	if acc := o.account(addr); acc != nil {
		return acc.Nonce
	}
	return 0
}

func (o *OverlayDB) SetNonce(addr common.Address, nonce uint64) {
	o.mutable(addr).Nonce = nonce
}

func (o *OverlayDB) GetCodeHash(addr common.Address) common.Hash {
	if acc := o.account(addr); acc != nil {
		return acc.CodeHash
	}
	return common.Hash{}
}

func (o *OverlayDB) GetCode(addr common.Address) []byte {
	if acc := o.account(addr); acc != nil {
		return acc.Code
	}
	return nil
}

func (o *OverlayDB) SetCode(addr common.Address, code []byte) {
	o.mutable(addr).SetCode(code)
}

func (o *OverlayDB) GetCodeSize(addr common.Address) int {
	return len(o.GetCode(addr))
}

// GetState walks the layers per slot: a copy-up carries only the slots known
// at copy time, so a miss in an upper layer still has to consult the ones
// below it and finally the backing.
func (o *OverlayDB) GetState(addr common.Address, key common.Hash) common.Hash {
	for i := len(o.layers) - 1; i >= 0; i-- {
		if acc, ok := o.layers[i].accounts[addr]; ok {
			if v, ok := acc.Storage[key]; ok {
				return v
			}
		}
	}
	if acc, ok := o.cache[addr]; ok {
		if v, ok := acc.Storage[key]; ok {
			return v
		}
	}
	v, err := o.backing.StorageAt(addr, key)
	if err != nil {
		if o.err == nil {
			o.err = err
		}
		return common.Hash{}
	}
	if acc, ok := o.cache[addr]; ok {
		acc.Storage[key] = v
	}
	return v
}

func (o *OverlayDB) SetState(addr common.Address, key, value common.Hash) {
	o.mutable(addr).Storage[key] = value
}

func (o *OverlayDB) Exist(addr common.Address) bool {
	return o.account(addr) != nil
}

func (o *OverlayDB) Empty(addr common.Address) bool {
	acc := o.account(addr)
	return acc == nil || acc.Empty()
}

// Snapshot opens a new layer on top of the stack and returns its revision id.
func (o *OverlayDB) Snapshot() int {
	if len(o.layers) > maxLayers {
		// runaway recursion; let the engine's depth limit surface it
		return len(o.layers) - 1
	}
	o.layers = append(o.layers, newLayer())
	return len(o.layers) - 1
}

// RevertToSnapshot drops the given revision and everything above it.
func (o *OverlayDB) RevertToSnapshot(rev int) {
	if rev < 1 || rev >= len(o.layers) {
		return
	}
	o.layers = o.layers[:rev]
}

func (o *OverlayDB) AddLog(l *vmtypes.Log) {
	act := o.active()
	act.logs = append(act.logs, l)
}

// LogsSince collects the logs of the given revision and everything above it,
// in emission order.
func (o *OverlayDB) LogsSince(rev int) []*vmtypes.Log {
	var out []*vmtypes.Log
	for i := rev; i < len(o.layers); i++ {
		out = append(out, o.layers[i].logs...)
	}
	return out
}

// ChangesSince merges the given revision and everything above it into one
// changeset: the mutations a speculative call would have applied.
func (o *OverlayDB) ChangesSince(rev int) vmtypes.Changeset {
	cs := make(vmtypes.Changeset)
	if rev < 0 {
		rev = 0
	}
	for i := rev; i < len(o.layers); i++ {
		for addr, acc := range o.layers[i].accounts {
			if prev, ok := cs[addr]; ok {
				foldAccount(prev, acc)
			} else {
				cs[addr] = acc.Copy()
			}
		}
	}
	return cs
}

// Commit folds a previously speculative changeset into the committed overlay.
// Re-applying the same changeset to the same pre-state is deterministic.
func (o *OverlayDB) Commit(cs vmtypes.Changeset) {
	base := o.layers[0]
	for addr, acc := range cs {
		if prev, ok := base.accounts[addr]; ok {
			foldAccount(prev, acc)
		} else {
			base.accounts[addr] = acc.Copy()
		}
	}
}

// foldAccount overlays src on dst. Scalar fields are replaced outright;
// storage is merged slot-wise because a copied-up account only carries the
// slots it had seen.
func foldAccount(dst, src *vmtypes.Account) {
	dst.Balance = new(big.Int).Set(src.Balance)
	dst.Nonce = src.Nonce
	dst.Suicided = src.Suicided
	if src.DirtyCode {
		dst.Code = src.Code
		dst.CodeHash = src.CodeHash
		dst.DirtyCode = true
	}
	for k, v := range src.Storage {
		dst.Storage[k] = v
	}
}

// GetAccount returns a copy of the record currently visible for addr, or nil
// if the address is unknown everywhere.
func (o *OverlayDB) GetAccount(addr common.Address) *vmtypes.Account {
	if acc := o.account(addr); acc != nil {
		return acc.Copy()
	}
	return nil
}

// PutAccount seeds the committed overlay directly. Used when building a
// throwaway store around a handful of accounts.
func (o *OverlayDB) PutAccount(addr common.Address, acc *vmtypes.Account) {
	o.layers[0].accounts[addr] = acc.Copy()
}

// Err reports the first backing-store failure observed by this overlay, if
// any. A non-nil value is fatal for the call that triggered it.
func (o *OverlayDB) Err() error {
	return o.err
}

var dumpConfig = spew.ConfigState{Indent: "  ", DisableMethods: true, DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true}

func (o *OverlayDB) String() string {
	b := strings.Builder{}
	for i := len(o.layers) - 1; i >= 0; i-- {
		if i == 0 {
			b.WriteString("Layer BOTTOM\n")
		} else {
			b.WriteString(fmt.Sprintf("Layer %d\n", i))
		}
		for addr, acc := range o.layers[i].accounts {
			b.WriteString(fmt.Sprintf("%s: %s", addr.Hex(), dumpConfig.Sdump(acc)))
		}
	}
	return b.String()
}
