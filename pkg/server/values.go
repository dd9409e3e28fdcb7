package server

import (
	"encoding/json"
	"fmt"

	"github.com/orneryd/graphkernel/pkg/core"
)

// propertyValue converts a decoded JSON value into a property value.
// Integral numbers become int64, other numbers float64. Arrays must be
// homogeneous; an empty array becomes []string.
func propertyValue(v any) (any, error) {
	switch x := v.(type) {
	case bool, string:
		return x, nil
	case json.Number:
		return numberValue(x)
	case []any:
		return arrayValue(x)
	case nil:
		return nil, fmt.Errorf("%w: null is not a property value", core.ErrIllegalValue)
	}
	return nil, fmt.Errorf("%w: unsupported property value %T", core.ErrIllegalValue, v)
}

func numberValue(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: bad number %q", core.ErrIllegalValue, n.String())
	}
	return f, nil
}

func arrayValue(xs []any) (any, error) {
	if len(xs) == 0 {
		return []string{}, nil
	}
	switch xs[0].(type) {
	case bool:
		out := make([]bool, len(xs))
		for i, x := range xs {
			b, ok := x.(bool)
			if !ok {
				return nil, mixedArray()
			}
			out[i] = b
		}
		return out, nil

	case string:
		out := make([]string, len(xs))
		for i, x := range xs {
			s, ok := x.(string)
			if !ok {
				return nil, mixedArray()
			}
			out[i] = s
		}
		return out, nil

	case json.Number:
		ints := make([]int64, 0, len(xs))
		floats := make([]float64, len(xs))
		for i, x := range xs {
			n, ok := x.(json.Number)
			if !ok {
				return nil, mixedArray()
			}
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", core.ErrIllegalValue, n.String())
			}
			floats[i] = f
			if v, err := n.Int64(); err == nil && ints != nil {
				ints = append(ints, v)
			} else {
				ints = nil
			}
		}
		if ints != nil {
			return ints, nil
		}
		return floats, nil
	}
	return nil, fmt.Errorf("%w: unsupported array element %T", core.ErrIllegalValue, xs[0])
}

func mixedArray() error {
	return fmt.Errorf("%w: array elements must share one type", core.ErrIllegalValue)
}

// propertyValues converts every value of a decoded property map.
func propertyValues(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		pv, err := propertyValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = pv
	}
	return out, nil
}
