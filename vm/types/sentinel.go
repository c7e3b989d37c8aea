package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// CheatcodeAddress is the reserved sentinel address cheatcode calls are sent
// to. Same address as HEVM's: address(bytes20(uint160(uint256(keccak256("hevm cheat code"))))).
var CheatcodeAddress = common.HexToAddress("0x7109709ECfa91a80626fF3989D68f67F5b1DD12D")

// CheatcodeCode is the placeholder code installed at CheatcodeAddress when
// the store is constructed. It only needs to be non-empty so that
// "does this address have code" checks pass; it is never executed.
var CheatcodeCode = []byte{0xcc}
