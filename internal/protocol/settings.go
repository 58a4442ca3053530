package protocol

import (
	"maps"
	"math"
	"reflect"
)

// Settings is a game-specific key to value map. Values are JSON scalars.
type Settings map[string]any

// Int returns the integer value stored at key.
// JSON numbers arrive as float64; non-integral values are truncated.
//
// Postcondition: ok is false when the key is absent or not numeric.
func (s Settings) Int(key string) (v int, ok bool) {
	switch n := s[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Bool returns the boolean value stored at key.
func (s Settings) Bool(key string) (v bool, ok bool) {
	b, ok := s[key].(bool)
	return b, ok
}

// Clone returns a shallow copy. A nil receiver yields nil.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Equal reports whether both maps hold the same keys and values, treating
// numerically equal ints and float64s as equal.
func (s Settings) Equal(o Settings) bool {
	if len(s) != len(o) {
		return false
	}
	for k, v := range s {
		w, ok := o[k]
		if !ok {
			return false
		}
		if a, aok := s.Int(k); aok {
			if b, bok := o.Int(k); bok && a == b && isWhole(v) && isWhole(w) {
				continue
			}
		}
		if !reflect.DeepEqual(v, w) {
			return false
		}
	}
	return true
}

func isWhole(v any) bool {
	switch n := v.(type) {
	case int, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	default:
		return false
	}
}
