package revert

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	vmtypes "github.com/annchain/forge/vm/types"
)

// Revert payload conventions are not self-describing, so decoding is an
// ordered list of best-effort strategies, first match wins. The decoder never
// panics; every strategy failure falls through to the next one.

const selectorLen = 4

var (
	// Solidity builtins.
	panicSelector = crypto.Keccak256([]byte("Panic(uint256)"))[:selectorLen]
	errorSelector = crypto.Keccak256([]byte("Error(string)"))[:selectorLen]

	// Cheatcode wrappers that carry another revert payload inside.
	expectRevertBytesSelector  = crypto.Keccak256([]byte("expectRevert(bytes)"))[:selectorLen]
	expectRevertBytes4Selector = crypto.Keccak256([]byte("expectRevert(bytes4)"))[:selectorLen]
)

// SkipPayload is the fixed sentinel a skipped call reverts with.
var SkipPayload = []byte("FORGE::SKIP")

// ErrorPrefix marks revert payloads synthesized by the cheatcode interpreter
// itself: ErrorPrefix followed by a raw UTF-8 message.
var ErrorPrefix = []byte("FORGE::ERROR")

// Fixed messages the decoder falls back to.
const (
	msgNotEnoughData    = "not enough error data to decode"
	msgUnsupportedPanic = "unsupported solidity builtin panic"
	msgNonNative        = "non-native error and not string"
	msgSkipped          = "SKIPPED"
)

// panicCodes maps Panic(uint256) codes to readable reasons.
var panicCodes = map[uint64]string{
	0x01: "Assertion violated",
	0x11: "Arithmetic over/underflow",
	0x12: "Division or modulo by 0",
	0x21: "Conversion into non-existent enum type",
	0x22: "Incorrectly encoded storage byte array",
	0x31: ".pop() on empty array",
	0x32: "Index out of bounds",
	0x41: "Memory allocation overflow",
	0x51: "Calling invalid internal function",
}

var (
	stringType, _  = abi.NewType("string", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytes4Type, _  = abi.NewType("bytes4", "", nil)
)

// Decode turns an opaque failure payload into a human-readable reason. The
// ABI, when supplied, contributes its declared custom errors; the status,
// when known, renders short payloads. Decode always produces something
// readable, with msgNonNative as the deliberate last resort.
func Decode(payload []byte, contractABI *abi.ABI, status vmtypes.Status, statusKnown bool) string {
	if s, ok := decode(payload, contractABI, status, statusKnown); ok {
		return s
	}
	if len(payload) < selectorLen {
		return msgNotEnoughData
	}
	return msgNonNative
}

func decode(payload []byte, contractABI *abi.ABI, status vmtypes.Status, statusKnown bool) (string, bool) {
	// 1. Too short for a selector: the interpreter status is all we have.
	if len(payload) < selectorLen {
		if statusKnown && !status.Succeeded() {
			return status.String(), true
		}
		return "", false
	}

	selector := payload[:selectorLen]
	trailing := payload[selectorLen:]

	// 2. Panic(uint256).
	if bytes.Equal(selector, panicSelector) {
		return decodePanic(trailing)
	}

	// 3. Error(string).
	if bytes.Equal(selector, errorSelector) {
		if s, ok := decodeString(trailing); ok {
			return s, true
		}
		return "", false
	}

	// 4. Nested expectRevert wrappers: unwrap one layer and recurse.
	if bytes.Equal(selector, expectRevertBytesSelector) {
		if inner, ok := unpackBytes(trailing); ok {
			if s, ok := decode(inner, contractABI, status, false); ok {
				return s, true
			}
			if s, ok := utf8String(inner); ok {
				return s, true
			}
		}
		return "", false
	}
	if bytes.Equal(selector, expectRevertBytes4Selector) {
		if inner, ok := unpackBytes4(trailing); ok {
			if s, ok := decode(inner, contractABI, status, false); ok {
				return s, true
			}
			if s, ok := utf8String(inner); ok {
				return s, true
			}
			return fmt.Sprintf("custom error %#x", inner), true
		}
		return "", false
	}

	// 5a. The fixed "skipped" sentinel.
	if bytes.Equal(payload, SkipPayload) {
		return msgSkipped, true
	}

	// 5b. Declared custom errors from the supplied ABI.
	if contractABI != nil {
		for name := range contractABI.Errors {
			e := contractABI.Errors[name]
			if !bytes.Equal(e.ID.Bytes()[:selectorLen], selector) {
				continue
			}
			if vals, err := e.Inputs.Unpack(trailing); err == nil {
				return fmt.Sprintf("%s%s", e.Name, renderValues(vals)), true
			}
		}
	}

	// 5c. Raw strings in various framings. The synthesized-error prefix must
	// be stripped before the whole payload is tried as text.
	if rest, found := bytes.CutPrefix(payload, ErrorPrefix); found {
		if s, ok := utf8String(rest); ok {
			return s, true
		}
	}
	if s, ok := utf8String(payload); ok {
		return s, true
	}
	if s, ok := utf8String(trailing); ok {
		return s, true
	}

	// 5d. Brute force against a small pool of plausible ABI types.
	if s, ok := bruteDecode(trailing); ok {
		return s, true
	}
	return "", false
}

func decodePanic(word []byte) (string, bool) {
	args := abi.Arguments{{Type: uint256Type}}
	vals, err := args.Unpack(word)
	if err != nil || len(vals) != 1 {
		return "", false
	}
	code, ok := vals[0].(*big.Int)
	if !ok {
		return "", false
	}
	if !code.IsUint64() {
		return msgUnsupportedPanic, true
	}
	if reason, ok := panicCodes[code.Uint64()]; ok {
		return reason, true
	}
	return msgUnsupportedPanic, true
}

func decodeString(data []byte) (string, bool) {
	args := abi.Arguments{{Type: stringType}}
	vals, err := args.Unpack(data)
	if err != nil || len(vals) != 1 {
		return "", false
	}
	s, ok := vals[0].(string)
	return s, ok
}

func unpackBytes(data []byte) ([]byte, bool) {
	args := abi.Arguments{{Type: bytesType}}
	vals, err := args.Unpack(data)
	if err != nil || len(vals) != 1 {
		return nil, false
	}
	b, ok := vals[0].([]byte)
	return b, ok
}

func unpackBytes4(data []byte) ([]byte, bool) {
	args := abi.Arguments{{Type: bytes4Type}}
	vals, err := args.Unpack(data)
	if err != nil || len(vals) != 1 {
		return nil, false
	}
	b, ok := vals[0].([4]byte)
	if !ok {
		return nil, false
	}
	return b[:], true
}

// utf8String accepts payloads that read as printable text once trailing NUL
// padding is stripped.
func utf8String(data []byte) (string, bool) {
	trimmed := bytes.TrimRight(data, "\x00")
	if len(trimmed) == 0 || !utf8.Valid(trimmed) {
		return "", false
	}
	s := string(trimmed)
	for _, r := range s {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return "", false
		}
	}
	return strings.TrimSpace(s), true
}

func renderValues(vals []interface{}) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
