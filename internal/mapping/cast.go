package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ErrCoerce reports a value that cannot be cast to its destination type.
var ErrCoerce = errors.New("cannot coerce value")

type caster func(v any) (any, error)

func casterFor(typ string) caster {
	switch typ {
	case TypeInt:
		return toInt
	case TypeBoolean:
		return toBoolean
	case TypeTimestamp:
		return toTimestamp
	default:
		return toString
	}
}

func coerceErr(typ string, v any, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w to %s: %v", ErrCoerce, typ, cause)
	}
	return fmt.Errorf("%w to %s from %T", ErrCoerce, typ, v)
}

func toString(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case map[string]any, []any:
		return nil, coerceErr(TypeString, v, nil)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, coerceErr(TypeString, v, err)
	}
	return s, nil
}

// toInt accepts integral numbers and base-10 integer strings.
func toInt(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, coerceErr(TypeInt, v, err)
		}
		return integral(f)
	case float64:
		return integral(x)
	case float32:
		return integral(float64(x))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, coerceErr(TypeInt, v, err)
		}
		return i, nil
	case bool:
		return nil, coerceErr(TypeInt, v, nil)
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return nil, coerceErr(TypeInt, v, err)
	}
	return i, nil
}

func integral(f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, coerceErr(TypeInt, f, fmt.Errorf("%v is not an integer", f))
	}
	return int64(f), nil
}

// toBoolean accepts booleans, strconv.ParseBool spellings and 0/1 numbers.
func toBoolean(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case json.Number:
		i, err := x.Int64()
		if err != nil || (i != 0 && i != 1) {
			return nil, coerceErr(TypeBoolean, v, fmt.Errorf("%q is not 0 or 1", x))
		}
		return i == 1, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, coerceErr(TypeBoolean, v, err)
		}
		return b, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return nil, coerceErr(TypeBoolean, v, err)
	}
	return b, nil
}

// toTimestamp accepts time.Time, date strings (RFC 3339 and the other
// layouts cast understands, read as UTC when no zone is given) and numbers
// as Unix epoch milliseconds, the extended-JSON $date encoding.
func toTimestamp(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return x.UTC(), nil
	case json.Number:
		ms, err := x.Int64()
		if err != nil {
			return nil, coerceErr(TypeTimestamp, v, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case float64:
		return time.UnixMilli(int64(x)).UTC(), nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		t, err := cast.ToTimeInDefaultLocationE(strings.TrimSpace(x), time.UTC)
		if err != nil {
			return nil, coerceErr(TypeTimestamp, v, err)
		}
		return t.UTC(), nil
	}
	return nil, coerceErr(TypeTimestamp, v, nil)
}
