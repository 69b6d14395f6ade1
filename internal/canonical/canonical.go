// Package canonical renders exchange request parameters into the exact
// query string that is HMAC-signed. The trading host, the signer and the
// exchange must all derive the same string for a signature to verify.
package canonical

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"signing-relay/pkg/apperror"
)

// SignatureKey is the parameter slot that carries the computed signature.
// It always renders last, whatever its lexical rank.
const SignatureKey = "signature"

// Param is a single request parameter. A nil Value, or a nil pointer, marks
// an optional parameter that was not supplied; it is dropped from the output.
type Param struct {
	Key   string
	Value interface{}
}

// Params is an ordered parameter list. Order of insertion does not affect
// the canonical string; keeping a slice (rather than a map) lets duplicate
// keys be detected instead of silently collapsing.
type Params []Param

// FromMap builds Params from a map.
func FromMap(m map[string]interface{}) Params {
	p := make(Params, 0, len(m))
	for k, v := range m {
		p = append(p, Param{Key: k, Value: v})
	}
	return p
}

// With returns a copy of p with key=value appended.
func (p Params) With(key string, value interface{}) Params {
	out := make(Params, len(p), len(p)+1)
	copy(out, p)
	return append(out, Param{Key: key, Value: value})
}

// Has reports whether key is present, including with a nil value.
func (p Params) Has(key string) bool {
	for _, e := range p {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Get returns the first value stored under key.
func (p Params) Get(key string) (interface{}, bool) {
	for _, e := range p {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Canonicalize renders p as key1=value1&key2=value2..., keys in byte-wise
// ascending order, with the signature entry (if any) moved to the end.
// Values are rendered verbatim, without URL escaping: a value containing
// '&' or '=' yields an ambiguous string.
func Canonicalize(p Params) (string, error) {
	pairs, err := Pairs(p)
	if err != nil {
		return "", err
	}
	return Join(pairs), nil
}

// Pairs returns the rendered key/value pairs of p in canonical order.
// The exchange client uses it to build query strings and form bodies that
// match the signed string byte for byte.
func Pairs(p Params) ([][2]string, error) {
	seen := make(map[string]struct{}, len(p))
	pairs := make([][2]string, 0, len(p))
	var signature *[2]string

	for _, e := range p {
		if _, dup := seen[e.Key]; dup {
			return nil, apperror.ErrDuplicateParameter(e.Key)
		}
		seen[e.Key] = struct{}{}

		if absent(e.Value) {
			continue
		}
		v, err := render(e.Key, e.Value)
		if err != nil {
			return nil, err
		}
		if e.Key == SignatureKey {
			signature = &[2]string{e.Key, v}
			continue
		}
		pairs = append(pairs, [2]string{e.Key, v})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	if signature != nil {
		pairs = append(pairs, *signature)
	}
	return pairs, nil
}

// Join renders pairs as key=value joined by '&'.
func Join(pairs [][2]string) string {
	var b strings.Builder
	for i, kv := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(kv[1])
	}
	return b.String()
}

// absent reports whether value is the "not supplied" marker: nil, or a
// typed nil pointer such as an unset *string or *decimal.Decimal.
func absent(value interface{}) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func render(key string, value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case *string:
		return *v, nil
	case []byte:
		return string(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", apperror.ErrUnsupportedValue(key, value)
	}
}
