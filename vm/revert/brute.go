package revert

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Brute-force decoding: with no selector match and no ABI to consult, try
// every 1- to 4-argument combination drawn from a small pool of plausible
// types and keep the first one that decodes. Payloads are adversarial at this
// point, so "usually produces something readable" beats "always correct".

const maxBruteArgs = 4

type poolEntry struct {
	name    string
	typ     abi.Type
	dynamic bool
}

var brutePool = buildBrutePool()

func buildBrutePool() []poolEntry {
	names := []string{"address", "bool", "uint256", "int256", "bytes", "string"}
	pool := make([]poolEntry, 0, len(names))
	for _, n := range names {
		t, err := abi.NewType(n, "", nil)
		if err != nil {
			continue
		}
		pool = append(pool, poolEntry{name: n, typ: t, dynamic: n == "bytes" || n == "string"})
	}
	return pool
}

// bruteArrayPool holds the fixed-size-array variants, tried as single
// parameters. Only static element types; sizes 2..4.
var bruteArrayPool = buildBruteArrayPool()

func buildBruteArrayPool() []poolEntry {
	elems := []string{"address", "bool", "uint256", "int256"}
	var pool []poolEntry
	for _, e := range elems {
		for size := 2; size <= maxBruteArgs; size++ {
			n := fmt.Sprintf("%s[%d]", e, size)
			t, err := abi.NewType(n, "", nil)
			if err != nil {
				continue
			}
			pool = append(pool, poolEntry{name: n, typ: t})
		}
	}
	return pool
}

// bruteDecode attempts the combinations in fixed order: single parameters
// first (scalars, then fixed-size arrays), then wider tuples. Every pool type
// occupies one head word, so a combination needing more head than the payload
// has is ruled out up front; an all-static combination must consume the
// payload exactly.
func bruteDecode(data []byte) (string, bool) {
	if len(data) == 0 || len(data)%32 != 0 {
		return "", false
	}
	for n := 1; n <= maxBruteArgs; n++ {
		if len(data) < 32*n {
			break
		}
		combo := make([]poolEntry, n)
		if s, ok := bruteCombos(data, combo, 0); ok {
			return s, true
		}
		if n == 1 {
			for _, entry := range bruteArrayPool {
				if s, ok := tryCombo(data, []poolEntry{entry}); ok {
					return s, true
				}
			}
		}
	}
	return "", false
}

func bruteCombos(data []byte, combo []poolEntry, pos int) (string, bool) {
	if pos == len(combo) {
		return tryCombo(data, combo)
	}
	for _, entry := range brutePool {
		combo[pos] = entry
		if s, ok := bruteCombos(data, combo, pos+1); ok {
			return s, true
		}
	}
	return "", false
}

func tryCombo(data []byte, combo []poolEntry) (string, bool) {
	args := make(abi.Arguments, len(combo))
	static := true
	for i, entry := range combo {
		args[i] = abi.Argument{Type: entry.typ}
		if entry.dynamic {
			static = false
		}
	}
	// a purely static combination must consume the payload exactly
	if static {
		staticSize := 0
		for _, entry := range combo {
			staticSize += staticWords(entry) * 32
		}
		if staticSize != len(data) {
			return "", false
		}
	}
	for i, entry := range combo {
		if entry.name == "address" && !plausibleAddressWord(data, i) {
			return "", false
		}
	}
	vals, err := args.Unpack(data)
	if err != nil || len(vals) != len(combo) {
		return "", false
	}
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, ", "), true
}

func staticWords(entry poolEntry) int {
	if entry.typ.T == abi.ArrayTy {
		return entry.typ.Size
	}
	return 1
}

// plausibleAddressWord requires the 12 leading pad bytes of an address word
// to be zero; the abi unpacker itself does not.
func plausibleAddressWord(data []byte, arg int) bool {
	off := arg * 32
	if off+32 > len(data) {
		return false
	}
	for _, b := range data[off : off+12] {
		if b != 0 {
			return false
		}
	}
	return true
}
