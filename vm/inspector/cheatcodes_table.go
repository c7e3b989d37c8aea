package inspector

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	vmtypes "github.com/annchain/forge/vm/types"
)

// errSkipped makes skip(true) revert with the fixed skip sentinel instead of
// a wrapped message.
var errSkipped = errors.New("skipped")

type cheatHandler func(c *Cheatcodes, state vmtypes.StateDB, frame *vmtypes.Frame, args []interface{}) ([]interface{}, error)

type cheatcode struct {
	sig     string
	in      abi.Arguments
	out     abi.Arguments
	handler cheatHandler
}

// cheatcodeTable maps function selectors to side-effecting handlers.
// Selectors are computed from the canonical signatures at init.
var cheatcodeTable = map[[4]byte]*cheatcode{}

func register(sig string, in, out abi.Arguments, h cheatHandler) {
	var selector [4]byte
	copy(selector[:], crypto.Keccak256([]byte(sig))[:4])
	cheatcodeTable[selector] = &cheatcode{sig: sig, in: in, out: out, handler: h}
}

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("bad cheatcode abi type %q: %v", t, err))
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

func init() {
	// block environment
	register("warp(uint256)", mustArgs("uint256"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			c.env.Block.Time = new(big.Int).Set(args[0].(*big.Int))
			return nil, nil
		})
	register("roll(uint256)", mustArgs("uint256"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			c.env.Block.Number = new(big.Int).Set(args[0].(*big.Int))
			return nil, nil
		})
	register("fee(uint256)", mustArgs("uint256"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			c.env.Block.BaseFee = new(big.Int).Set(args[0].(*big.Int))
			return nil, nil
		})
	register("difficulty(uint256)", mustArgs("uint256"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			c.env.Block.Difficulty = new(big.Int).Set(args[0].(*big.Int))
			return nil, nil
		})
	register("coinbase(address)", mustArgs("address"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			c.env.Block.Coinbase = args[0].(common.Address)
			return nil, nil
		})
	register("chainId(uint256)", mustArgs("uint256"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			c.env.Chain.ChainID = new(big.Int).Set(args[0].(*big.Int))
			return nil, nil
		})

	// account overrides
	register("deal(address,uint256)", mustArgs("address", "uint256"), nil,
		func(c *Cheatcodes, state vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			sw, ok := state.(StateWriter)
			if !ok {
				return nil, errors.New("store does not support balance overrides")
			}
			sw.SetBalance(args[0].(common.Address), args[1].(*big.Int))
			return nil, nil
		})
	register("setNonce(address,uint64)", mustArgs("address", "uint64"), nil,
		func(c *Cheatcodes, state vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			addr := args[0].(common.Address)
			nonce := args[1].(uint64)
			if cur := state.GetNonce(addr); nonce < cur {
				return nil, errors.Errorf("new nonce %d is lower than current %d", nonce, cur)
			}
			state.CreateAccount(addr)
			state.SetNonce(addr, nonce)
			return nil, nil
		})
	register("getNonce(address)", mustArgs("address"), mustArgs("uint64"),
		func(c *Cheatcodes, state vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			return []interface{}{state.GetNonce(args[0].(common.Address))}, nil
		})
	register("store(address,bytes32,bytes32)", mustArgs("address", "bytes32", "bytes32"), nil,
		func(c *Cheatcodes, state vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			key := args[1].([32]byte)
			value := args[2].([32]byte)
			state.SetState(args[0].(common.Address), common.Hash(key), common.Hash(value))
			return nil, nil
		})
	register("load(address,bytes32)", mustArgs("address", "bytes32"), mustArgs("bytes32"),
		func(c *Cheatcodes, state vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			key := args[1].([32]byte)
			v := state.GetState(args[0].(common.Address), common.Hash(key))
			return []interface{}{[32]byte(v)}, nil
		})
	register("etch(address,bytes)", mustArgs("address", "bytes"), nil,
		func(c *Cheatcodes, state vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			state.SetCode(args[0].(common.Address), args[1].([]byte))
			return nil, nil
		})

	// identity
	register("label(address,string)", mustArgs("address", "string"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			c.labels[args[0].(common.Address)] = args[1].(string)
			return nil, nil
		})
	register("addr(uint256)", mustArgs("uint256"), mustArgs("address"),
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			pk := args[0].(*big.Int)
			if pk.Sign() == 0 {
				return nil, errors.New("private key cannot be zero")
			}
			priv, err := crypto.ToECDSA(common.BigToHash(pk).Bytes())
			if err != nil {
				return nil, errors.Wrap(err, "invalid private key")
			}
			return []interface{}{crypto.PubkeyToAddress(priv.PublicKey)}, nil
		})

	// caller impersonation
	register("prank(address)", mustArgs("address"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			c.prank = &prankState{caller: args[0].(common.Address)}
			return nil, nil
		})
	register("startPrank(address)", mustArgs("address"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			c.prank = &prankState{caller: args[0].(common.Address), repeat: true}
			return nil, nil
		})
	register("stopPrank()", nil, nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, _ []interface{}) ([]interface{}, error) {
			c.prank = nil
			return nil, nil
		})

	// state snapshots, scoped to the in-flight call
	register("snapshot()", nil, mustArgs("uint256"),
		func(c *Cheatcodes, state vmtypes.StateDB, _ *vmtypes.Frame, _ []interface{}) ([]interface{}, error) {
			rev := state.Snapshot()
			c.nextSnapshot++
			c.snapshots[c.nextSnapshot] = rev
			return []interface{}{new(big.Int).SetUint64(c.nextSnapshot)}, nil
		})
	register("revertTo(uint256)", mustArgs("uint256"), mustArgs("bool"),
		func(c *Cheatcodes, state vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			id := args[0].(*big.Int)
			if !id.IsUint64() {
				return []interface{}{false}, nil
			}
			rev, ok := c.snapshots[id.Uint64()]
			if !ok {
				return []interface{}{false}, nil
			}
			state.RevertToSnapshot(rev)
			delete(c.snapshots, id.Uint64())
			return []interface{}{true}, nil
		})

	// revert expectations
	register("expectRevert()", nil, nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, _ []interface{}) ([]interface{}, error) {
			c.expectedRevert = &expectedRevert{}
			return nil, nil
		})
	register("expectRevert(bytes)", mustArgs("bytes"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			payload := args[0].([]byte)
			c.expectedRevert = &expectedRevert{payload: payload}
			return nil, nil
		})
	register("expectRevert(bytes4)", mustArgs("bytes4"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			sel := args[0].([4]byte)
			c.expectedRevert = &expectedRevert{payload: sel[:], selectorOnly: true}
			return nil, nil
		})

	register("skip(bool)", mustArgs("bool"), nil,
		func(c *Cheatcodes, _ vmtypes.StateDB, _ *vmtypes.Frame, args []interface{}) ([]interface{}, error) {
			if args[0].(bool) {
				return nil, errSkipped
			}
			return nil, nil
		})
}
