package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Storage map[common.Hash]common.Hash

func NewStorage() Storage {
	return make(map[common.Hash]common.Hash)
}

func (s Storage) Copy() Storage {
	d := NewStorage()
	for k, v := range s {
		d[k] = v
	}
	return d
}

// Account is the overlay's record for one address: balance, nonce, code and
// the storage slots touched so far. Mutations always go through an explicit
// setter or a committed changeset, never through a shared pointer.
type Account struct {
	Balance  *big.Int
	Nonce    uint64
	Code     []byte
	CodeHash common.Hash
	Storage  Storage

	Suicided  bool
	DirtyCode bool
}

func NewAccount() *Account {
	return &Account{
		Balance: big.NewInt(0),
		Storage: NewStorage(),
	}
}

func (a *Account) SetCode(code []byte) {
	a.Code = code
	a.CodeHash = crypto.Keccak256Hash(code)
	a.DirtyCode = true
}

func (a *Account) Empty() bool {
	return a.Balance.Sign() == 0 && a.Nonce == 0 && len(a.Code) == 0
}

func (a *Account) Copy() *Account {
	d := NewAccount()
	d.Balance = new(big.Int).Set(a.Balance)
	d.Nonce = a.Nonce
	d.Code = a.Code
	d.CodeHash = a.CodeHash
	d.Suicided = a.Suicided
	d.DirtyCode = a.DirtyCode
	d.Storage = a.Storage.Copy()
	return d
}

func (a *Account) String() string {
	return fmt.Sprintf("Balance %s Nonce %d CodeLen %d Slots %d", a.Balance, a.Nonce, len(a.Code), len(a.Storage))
}

// Changeset is the set of account mutations one call would apply, keyed by
// address. It is produced by a speculative call and folded into the overlay
// by a committing one.
type Changeset map[common.Address]*Account

func (c Changeset) Copy() Changeset {
	d := make(Changeset, len(c))
	for addr, acc := range c {
		d[addr] = acc.Copy()
	}
	return d
}
