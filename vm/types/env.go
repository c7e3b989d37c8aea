package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainConfig carries the chain-wide parameters the engine needs. Consensus
// rules live in the interpreter; only identity matters here.
type ChainConfig struct {
	ChainID *big.Int
}

func (c ChainConfig) Copy() ChainConfig {
	return ChainConfig{ChainID: new(big.Int).Set(c.ChainID)}
}

// BlockContext is the block the call pretends to execute in. Cheatcodes may
// rewrite it at any point (warp, roll, fee, coinbase); interpreters observe
// the rewrite through the frame's Env on their next read.
type BlockContext struct {
	Number     *big.Int
	Time       *big.Int
	GasLimit   uint64
	Coinbase   common.Address
	BaseFee    *big.Int
	Difficulty *big.Int
}

func (b BlockContext) Copy() BlockContext {
	return BlockContext{
		Number:     new(big.Int).Set(b.Number),
		Time:       new(big.Int).Set(b.Time),
		GasLimit:   b.GasLimit,
		Coinbase:   b.Coinbase,
		BaseFee:    new(big.Int).Set(b.BaseFee),
		Difficulty: new(big.Int).Set(b.Difficulty),
	}
}

// TxContext represents all information the engine needs to know about the tx
// currently processing. To is nil for a create.
type TxContext struct {
	From     common.Address
	To       *common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

// Env is the full execution environment of one call. The Tx context is
// rebuilt fresh for every invocation; Block and Chain live on the executor's
// template so that cheatcode rewrites reach in-flight frames.
type Env struct {
	Chain ChainConfig
	Block BlockContext
	Tx    TxContext
}

func (e Env) IsCreate() bool {
	return e.Tx.To == nil
}
