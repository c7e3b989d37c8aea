package state

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	vmtypes "github.com/annchain/forge/vm/types"
)

// MemoryBacking is an in-memory source of truth: a genesis allocation for
// local runs and tests. It is immutable once handed to an overlay, therefore
// trivially safe for concurrent readers.
type MemoryBacking struct {
	accounts map[common.Address]*vmtypes.Account
}

func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{accounts: make(map[common.Address]*vmtypes.Account)}
}

// SetAccount places an account into the genesis allocation. Call only during
// setup, before any overlay starts reading.
func (m *MemoryBacking) SetAccount(addr common.Address, acc *vmtypes.Account) {
	m.accounts[addr] = acc
}

// SetBalance is a genesis-building convenience.
func (m *MemoryBacking) SetBalance(addr common.Address, balance *big.Int) {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = vmtypes.NewAccount()
		m.accounts[addr] = acc
	}
	acc.Balance = new(big.Int).Set(balance)
}

// SetCode is a genesis-building convenience.
func (m *MemoryBacking) SetCode(addr common.Address, code []byte) {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = vmtypes.NewAccount()
		m.accounts[addr] = acc
	}
	acc.SetCode(code)
}

func (m *MemoryBacking) Account(addr common.Address) (*vmtypes.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return nil, nil
	}
	return acc.Copy(), nil
}

func (m *MemoryBacking) StorageAt(addr common.Address, key common.Hash) (common.Hash, error) {
	if acc, ok := m.accounts[addr]; ok {
		if v, ok := acc.Storage[key]; ok {
			return v, nil
		}
	}
	return common.Hash{}, nil
}

func (m *MemoryBacking) String() string {
	b := strings.Builder{}
	for addr, acc := range m.accounts {
		b.WriteString(fmt.Sprintf("%s: %s\n", addr.Hex(), acc))
	}
	return b.String()
}
