package tracker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Object is a JSON object that remembers key order. FlattenJSON decodes
// objects into it so that leaf fields come out in enumeration order rather
// than Go map order.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set stores v under key. A key set twice keeps its first position.
func (o *Object) Set(key string, v any) {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Len returns the number of distinct keys.
func (o *Object) Len() int { return len(o.keys) }

// Keys returns the keys in property enumeration order: array-index keys
// ascending first, then every other key in insertion order.
func (o *Object) Keys() []string {
	var idx, rest []string
	for _, k := range o.keys {
		if _, ok := arrayIndex(k); ok {
			idx = append(idx, k)
		} else {
			rest = append(rest, k)
		}
	}
	slices.SortFunc(idx, func(a, b string) int {
		ia, _ := arrayIndex(a)
		ib, _ := arrayIndex(b)
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return 0
	})
	return append(idx, rest...)
}

// arrayIndex reports whether k is a canonical array index (0 .. 2^32-2).
func arrayIndex(k string) (uint64, bool) {
	if k == "" || (len(k) > 1 && k[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(k, 10, 32)
	if err != nil || n >= math.MaxUint32 {
		return 0, false
	}
	return n, true
}

// Flatten walks v depth-first in pre-order and returns one Field per leaf.
// Composite values (*Object, map[string]any, []any) are never emitted
// themselves; their members extend the path with the key or index. Plain
// maps are visited in sorted key order.
func Flatten(v any) []Field {
	fields := []Field{}
	walk(v, nil, &fields)
	return fields
}

// FlattenJSON decodes body preserving key order and flattens it. An empty
// or whitespace-only body has no value and yields no fields.
func FlattenJSON(body []byte) ([]Field, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []Field{}, nil
	}
	v, err := DecodeOrdered(body)
	if err != nil {
		return nil, err
	}
	return Flatten(v), nil
}

// ErrInvalidJSON wraps every decode failure of a response payload.
var ErrInvalidJSON = errors.New("tracker: invalid JSON")

// DecodeOrdered decodes a single JSON document. Objects become *Object,
// arrays []any, numbers json.Number.
func DecodeOrdered(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after value", ErrInvalidJSON)
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := NewObject()
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("object key is %T", kt)
			}
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.Set(key, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil

	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}

	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

func walk(v any, path []string, out *[]Field) {
	switch t := v.(type) {
	case *Object:
		for _, k := range t.Keys() {
			walk(t.values[k], extend(path, k), out)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			walk(t[k], extend(path, k), out)
		}
	case []any:
		for i, e := range t {
			walk(e, extend(path, strconv.Itoa(i)), out)
		}
	default:
		*out = append(*out, Field{
			Path:  strings.Join(path, "."),
			Value: Stringify(t),
		})
	}
}

func extend(path []string, key string) []string {
	p := make([]string, len(path)+1)
	copy(p, path)
	p[len(path)] = key
	return p
}

// Stringify returns the canonical text form of a scalar, the form a browser
// would render: null -> "null", booleans as words, numbers as JavaScript
// Number#toString.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return t.String()
		}
		return FormatNumber(f)
	case float64:
		return FormatNumber(t)
	case float32:
		return FormatNumber(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// FormatNumber formats f like JavaScript Number#toString: shortest
// round-trip digits, exponent form outside [1e-6, 1e21).
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
