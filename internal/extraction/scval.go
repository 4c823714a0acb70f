package extraction

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/stellar/go/xdr"
)

// ScValToInterface converts an ScVal to a Go value for JSON dumps and debug logs
func ScValToInterface(val xdr.ScVal) interface{} {
	switch val.Type {
	case xdr.ScValTypeScvBool:
		return val.MustB()
	case xdr.ScValTypeScvVoid:
		return nil
	case xdr.ScValTypeScvU32:
		return val.MustU32()
	case xdr.ScValTypeScvI32:
		return val.MustI32()
	case xdr.ScValTypeScvU64:
		return val.MustU64()
	case xdr.ScValTypeScvI64:
		return val.MustI64()
	case xdr.ScValTypeScvU128, xdr.ScValTypeScvI128:
		if n, err := ScValToInt64(val); err == nil {
			return n
		}
		return val.Type.String()
	case xdr.ScValTypeScvSymbol:
		return string(val.MustSym())
	case xdr.ScValTypeScvString:
		return string(val.MustStr())
	case xdr.ScValTypeScvAddress:
		addr := val.MustAddress()
		str, _ := addr.String()
		return str
	case xdr.ScValTypeScvBytes:
		return hex.EncodeToString(val.MustBytes())
	case xdr.ScValTypeScvVec:
		vec := *val.MustVec()
		result := make([]interface{}, len(vec))
		for i, element := range vec {
			result[i] = ScValToInterface(element)
		}
		return result
	case xdr.ScValTypeScvMap:
		scMap := *val.MustMap()
		result := make(map[string]interface{})
		for _, entry := range scMap {
			result[scValToString(entry.Key)] = ScValToInterface(entry.Val)
		}
		return result
	default:
		return val.Type.String()
	}
}

func scValToString(val xdr.ScVal) string {
	switch val.Type {
	case xdr.ScValTypeScvSymbol:
		return string(val.MustSym())
	case xdr.ScValTypeScvString:
		return string(val.MustStr())
	case xdr.ScValTypeScvAddress:
		addr := val.MustAddress()
		str, _ := addr.String()
		return str
	case xdr.ScValTypeScvU32:
		return fmt.Sprintf("%d", val.MustU32())
	case xdr.ScValTypeScvU64:
		return fmt.Sprintf("%d", val.MustU64())
	default:
		return fmt.Sprintf("<%s>", val.Type.String())
	}
}

// ScValToInt64 reads any integer ScVal that fits in an int64.
// Contract amounts are i128 but table stakes never exceed 63 bits.
func ScValToInt64(val xdr.ScVal) (int64, error) {
	switch val.Type {
	case xdr.ScValTypeScvU32:
		return int64(val.MustU32()), nil
	case xdr.ScValTypeScvI32:
		return int64(val.MustI32()), nil
	case xdr.ScValTypeScvU64:
		u := uint64(val.MustU64())
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("u64 %d overflows int64", u)
		}
		return int64(u), nil
	case xdr.ScValTypeScvI64:
		return int64(val.MustI64()), nil
	case xdr.ScValTypeScvU128:
		parts := val.MustU128()
		if parts.Hi != 0 || uint64(parts.Lo) > math.MaxInt64 {
			return 0, fmt.Errorf("u128 overflows int64")
		}
		return int64(parts.Lo), nil
	case xdr.ScValTypeScvI128:
		parts := val.MustI128()
		lo := uint64(parts.Lo)
		switch {
		case parts.Hi == 0 && lo <= math.MaxInt64:
			return int64(lo), nil
		case parts.Hi == -1 && lo > math.MaxInt64:
			return int64(lo), nil
		}
		return 0, fmt.Errorf("i128 overflows int64")
	}
	return 0, fmt.Errorf("not an integer: %s", val.Type.String())
}
