package entity

import (
	"bytes"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// Equal compares two field values. Null (nil or an absent field) is distinct
// from every non-null value, including empty strings, zero numbers and empty
// byte slices. Decimals compare by numeric value and times by instant.
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case int64:
			return x == float64(y)
		}
		return false
	}

	return reflect.DeepEqual(a, b)
}
