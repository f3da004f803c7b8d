// Package jsonvalue provides an explicit tagged JSON value with safe, typed
// accessors. Lookups on missing keys or out-of-range indexes return nil, and
// every accessor treats a nil *Value as JSON null, so extraction code can
// chain Get/Index calls without intermediate has-key checks.
package jsonvalue

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a JSON document node. Objects keep key insertion order.
type Value struct {
	kind Kind
	b    bool
	num  string
	str  string
	arr  []*Value
	keys []string
	obj  map[string]*Value
}

// NewNull returns an explicit JSON null.
func NewNull() *Value { return &Value{kind: KindNull} }

// NewBool returns a JSON boolean.
func NewBool(b bool) *Value { return &Value{kind: KindBool, b: b} }

// NewString returns a JSON string.
func NewString(s string) *Value { return &Value{kind: KindString, str: s} }

// NewInt returns a JSON number holding an integer.
func NewInt(i int64) *Value { return &Value{kind: KindNumber, num: strconv.FormatInt(i, 10)} }

// NewFloat returns a JSON number using the shortest invariant representation.
func NewFloat(f float64) *Value {
	return &Value{kind: KindNumber, num: strconv.FormatFloat(f, 'f', -1, 64)}
}

// NewNumber returns a JSON number from its literal text. The literal is
// validated with strconv.ParseFloat.
func NewNumber(literal string) (*Value, error) {
	if _, err := strconv.ParseFloat(literal, 64); err != nil {
		return nil, fmt.Errorf("invalid number literal %q", literal)
	}
	return &Value{kind: KindNumber, num: literal}, nil
}

// NewArray returns a JSON array holding items.
func NewArray(items ...*Value) *Value {
	arr := make([]*Value, 0, len(items))
	for _, it := range items {
		arr = append(arr, orNull(it))
	}
	return &Value{kind: KindArray, arr: arr}
}

// NewObject returns an empty JSON object.
func NewObject() *Value {
	return &Value{kind: KindObject, obj: make(map[string]*Value)}
}

func orNull(v *Value) *Value {
	if v == nil {
		return NewNull()
	}
	return v
}

// Kind returns the variant tag. A nil receiver reports KindNull.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is nil or an explicit null.
func (v *Value) IsNull() bool { return v.Kind() == KindNull }

// IsObject reports whether v is an object.
func (v *Value) IsObject() bool { return v.Kind() == KindObject }

// IsArray reports whether v is an array.
func (v *Value) IsArray() bool { return v.Kind() == KindArray }

// Get returns the member named key, or nil.
func (v *Value) Get(key string) *Value {
	if v.Kind() != KindObject {
		return nil
	}
	return v.obj[key]
}

// Has reports whether the object carries key (even with a null value).
func (v *Value) Has(key string) bool {
	if v.Kind() != KindObject {
		return false
	}
	_, ok := v.obj[key]
	return ok
}

// Path walks nested object members.
func (v *Value) Path(keys ...string) *Value {
	cur := v
	for _, k := range keys {
		cur = cur.Get(k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Set stores val under key, keeping the original position for existing keys.
// It panics when v is not an object.
func (v *Value) Set(key string, val *Value) *Value {
	if v.Kind() != KindObject {
		panic(fmt.Sprintf("jsonvalue: Set on %s", v.Kind()))
	}
	if _, ok := v.obj[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.obj[key] = orNull(val)
	return v
}

// Delete removes key from the object.
func (v *Value) Delete(key string) {
	if v.Kind() != KindObject {
		return
	}
	if _, ok := v.obj[key]; !ok {
		return
	}
	delete(v.obj, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Keys returns object keys in insertion order.
func (v *Value) Keys() []string {
	if v.Kind() != KindObject {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Len returns the number of array items or object members.
func (v *Value) Len() int {
	switch v.Kind() {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.keys)
	default:
		return 0
	}
}

// Index returns array item i, or nil.
func (v *Value) Index(i int) *Value {
	if v.Kind() != KindArray || i < 0 || i >= len(v.arr) {
		return nil
	}
	return v.arr[i]
}

// Items returns the array items. The slice must not be modified.
func (v *Value) Items() []*Value {
	if v.Kind() != KindArray {
		return nil
	}
	return v.arr
}

// Append adds items to an array. It panics when v is not an array.
func (v *Value) Append(items ...*Value) *Value {
	if v.Kind() != KindArray {
		panic(fmt.Sprintf("jsonvalue: Append on %s", v.Kind()))
	}
	for _, it := range items {
		v.arr = append(v.arr, orNull(it))
	}
	return v
}

// Str returns the string payload.
func (v *Value) Str() (string, bool) {
	if v.Kind() != KindString {
		return "", false
	}
	return v.str, true
}

// Bool returns the boolean payload.
func (v *Value) Bool() (bool, bool) {
	if v.Kind() != KindBool {
		return false, false
	}
	return v.b, true
}

// NumberLiteral returns the number's literal text.
func (v *Value) NumberLiteral() (string, bool) {
	if v.Kind() != KindNumber {
		return "", false
	}
	return v.num, true
}

// Int64 returns the value as an integer. Numbers with a fractional part
// are truncated, numeric strings are parsed.
func (v *Value) Int64() (int64, bool) {
	switch v.Kind() {
	case KindNumber:
		if i, err := strconv.ParseInt(v.num, 10, 64); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(v.num, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return int64(f), true
	case KindString:
		i, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Float64 returns the value as a float. Numeric strings are parsed.
func (v *Value) Float64() (float64, bool) {
	switch v.Kind() {
	case KindNumber:
		f, err := strconv.ParseFloat(v.num, 64)
		return f, err == nil
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Text renders a scalar as plain text: strings verbatim, numbers by literal,
// booleans as true/false. Null, arrays and objects report false.
func (v *Value) Text() (string, bool) {
	switch v.Kind() {
	case KindString:
		return v.str, true
	case KindNumber:
		return v.num, true
	case KindBool:
		return strconv.FormatBool(v.b), true
	default:
		return "", false
	}
}

// Clone returns a deep copy.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	c := &Value{kind: v.kind, b: v.b, num: v.num, str: v.str}
	switch v.kind {
	case KindArray:
		c.arr = make([]*Value, len(v.arr))
		for i, it := range v.arr {
			c.arr[i] = it.Clone()
		}
	case KindObject:
		c.keys = make([]string, len(v.keys))
		copy(c.keys, v.keys)
		c.obj = make(map[string]*Value, len(v.obj))
		for k, it := range v.obj {
			c.obj[k] = it.Clone()
		}
	}
	return c
}

// Equal reports deep equality. Object key order is ignored.
func (v *Value) Equal(o *Value) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.str == o.str
	case KindNumber:
		if v.num == o.num {
			return true
		}
		a, errA := strconv.ParseFloat(v.num, 64)
		b, errB := strconv.ParseFloat(o.num, 64)
		return errA == nil && errB == nil && a == b
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.keys) != len(o.keys) {
			return false
		}
		for k, it := range v.obj {
			other, ok := o.obj[k]
			if !ok || !it.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// RemoveKeyRecursive deletes key from every object in the tree.
func (v *Value) RemoveKeyRecursive(key string) {
	switch v.Kind() {
	case KindObject:
		v.Delete(key)
		for _, k := range v.keys {
			v.obj[k].RemoveKeyRecursive(key)
		}
	case KindArray:
		for _, it := range v.arr {
			it.RemoveKeyRecursive(key)
		}
	}
}

// SortedKeys returns object keys in lexical order.
func (v *Value) SortedKeys() []string {
	keys := v.Keys()
	sort.Strings(keys)
	return keys
}

// Parse decodes a single JSON document.
func Parse(data []byte) (*Value, error) {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("jsonvalue: trailing data after document")
	}
	return v, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) *Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

func decodeValue(dec *gojson.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("jsonvalue: %w", err)
	}
	return fromToken(dec, tok)
}

func fromToken(dec *gojson.Decoder, tok gojson.Token) (*Value, error) {
	switch t := tok.(type) {
	case nil:
		return NewNull(), nil
	case bool:
		return NewBool(t), nil
	case string:
		return NewString(t), nil
	case gojson.Number:
		return &Value{kind: KindNumber, num: t.String()}, nil
	case float64:
		return NewFloat(t), nil
	case gojson.Delim:
		switch t {
		case '[':
			arr := NewArray()
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr.arr = append(arr.arr, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("jsonvalue: %w", err)
			}
			return arr, nil
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("jsonvalue: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("jsonvalue: object key is %T", keyTok)
				}
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("jsonvalue: %w", err)
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("jsonvalue: unexpected token %v", tok)
}

// MarshalJSON implements json.Marshaler.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}

// String renders compact JSON, for logs and error details.
func (v *Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid json: %v>", err)
	}
	return string(b)
}

func (v *Value) encode(buf *bytes.Buffer) error {
	switch v.Kind() {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.num)
	case KindString:
		return encodeString(buf, v.str)
	case KindArray:
		buf.WriteByte('[')
		for i, it := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := v.obj[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	b, err := gojson.MarshalNoEscape(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
