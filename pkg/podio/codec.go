package podio

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/podsync/pkg/errors"
	jsonpool "github.com/ajitpratap0/podsync/pkg/json"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
)

// Wire layouts for dates.
const (
	DateTimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
)

var parseLayouts = []string{DateTimeLayout, DateLayout, time.RFC3339Nano, "2006-01-02T15:04:05"}

// Codec converts between native wire values and declared column types.
// Numbers always use the invariant format; Location only affects how times
// without an offset are read.
type Codec struct {
	Location *time.Location
}

// NewCodec returns a codec reading zone-less times in loc (UTC when nil).
func NewCodec(loc *time.Location) *Codec {
	return &Codec{Location: loc}
}

var defaultCodec = NewCodec(time.UTC)

func (c *Codec) loc() *time.Location {
	if c == nil || c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func numericNative(nt NativeType) bool {
	return nt == NativeNumber || nt == NativeMoney
}

// Tidy normalizes text coming from rich text fields. Blank text and a lone
// "<p></p>" become null (ok is false); leading "<p>" and trailing "</p>"
// are stripped until none remain. Tidy is idempotent.
func Tidy(s string) (string, bool) {
	for {
		if strings.TrimSpace(s) == "" || strings.EqualFold(s, "<p></p>") {
			return "", false
		}
		switch {
		case len(s) >= 3 && strings.EqualFold(s[:3], "<p>"):
			s = s[3:]
		case len(s) >= 4 && strings.EqualFold(s[len(s)-4:], "</p>"):
			s = s[:len(s)-4]
		default:
			return s, true
		}
	}
}

// ToDeclared converts a native value into the declared column type.
func (c *Codec) ToDeclared(v *jsonvalue.Value, nt NativeType, dt DeclaredType) (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}
	if dt == TypeJSON {
		return v.String(), nil
	}

	var x interface{}
	if v.IsObject() {
		x = v.String()
	} else {
		x = v.ToAny()
	}

	out, err := c.Coerce(x, dt)
	if err != nil {
		return nil, err
	}
	if s, ok := out.(string); ok {
		if numericNative(nt) {
			if n, ok := normalizeNumber(s); ok {
				return n, nil
			}
		}
		if t, ok := Tidy(s); ok {
			return t, nil
		}
		return nil, nil
	}
	return out, nil
}

// ToNative converts a cell value into its wire form.
func (c *Codec) ToNative(value interface{}, nt NativeType, dt DeclaredType) (*jsonvalue.Value, error) {
	x, err := c.Coerce(value, dt)
	if err != nil {
		return nil, err
	}
	switch t := x.(type) {
	case nil:
		return jsonvalue.NewNull(), nil
	case string:
		if dt == TypeJSON {
			if doc, err := jsonvalue.Parse([]byte(t)); err == nil {
				return doc, nil
			}
			return jsonvalue.NewString(t), nil
		}
		if numericNative(nt) {
			if _, ok := normalizeNumber(t); ok {
				return jsonvalue.NewString(strings.TrimSpace(t)), nil
			}
		}
		if s, ok := Tidy(t); ok {
			return jsonvalue.NewString(s), nil
		}
		return jsonvalue.NewNull(), nil
	case time.Time:
		return jsonvalue.NewString(t.UTC().Format(DateTimeLayout)), nil
	default:
		return jsonvalue.From(t)
	}
}

// Coerce converts a Go value into the Go representation of dt: string,
// int32, int64, float64, bool, time.Time, []string, []int32 or []int64.
// Arrays collapse to their first non-null element for scalar types and
// scalars are wrapped for array types.
func (c *Codec) Coerce(value interface{}, dt DeclaredType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if v, ok := value.(*jsonvalue.Value); ok {
		return c.ToDeclared(v, NativeString, dt)
	}

	items, isSlice := sliceItems(value)
	if dt.IsArray() {
		if !isSlice {
			items = []interface{}{value}
		}
		return c.coerceArray(items, dt)
	}
	if isSlice {
		value = firstNonNil(items)
		if value == nil {
			return nil, nil
		}
	}

	switch dt {
	case TypeString, TypeJSON:
		return c.toString(value)
	case TypeInt32:
		n, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return nil, errors.Newf(errors.ErrorTypeData, "value %d overflows int32", n)
		}
		return int32(n), nil
	case TypeInt64:
		return toInt64(value)
	case TypeDecimal, TypeDouble:
		return toFloat64(value)
	case TypeBool:
		return toBool(value)
	case TypeDateTime:
		return c.toTime(value)
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "unsupported declared type %s", dt)
	}
}

func (c *Codec) coerceArray(items []interface{}, dt DeclaredType) (interface{}, error) {
	elem := dt.Elem()
	var (
		strs []string
		i32s []int32
		i64s []int64
	)
	for _, it := range items {
		v, err := c.Coerce(it, elem)
		if err != nil {
			return nil, err
		}
		switch t := v.(type) {
		case nil:
		case string:
			strs = append(strs, t)
		case int32:
			i32s = append(i32s, t)
		case int64:
			i64s = append(i64s, t)
		}
	}
	switch dt {
	case TypeStringArray:
		if len(strs) == 0 {
			return nil, nil
		}
		return strs, nil
	case TypeInt32Array:
		if len(i32s) == 0 {
			return nil, nil
		}
		return i32s, nil
	default:
		if len(i64s) == 0 {
			return nil, nil
		}
		return i64s, nil
	}
}

func sliceItems(value interface{}) ([]interface{}, bool) {
	switch t := value.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []int32:
		out := make([]interface{}, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]interface{}, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

func firstNonNil(items []interface{}) interface{} {
	for _, it := range items {
		if it == nil {
			continue
		}
		if v, ok := it.(*jsonvalue.Value); ok && v.IsNull() {
			continue
		}
		return it
	}
	return nil
}

func (c *Codec) toString(value interface{}) (interface{}, error) {
	switch t := value.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case jsonpool.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case time.Time:
		return t.In(c.loc()).Format(DateTimeLayout), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	v, err := jsonvalue.From(value)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot convert value to string")
	}
	return v.String(), nil
}

// normalizeNumber renders a numeric string in invariant form. ok is false
// for text that is not a number, such as a currency code.
func normalizeNumber(s string) (string, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return s, false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func toInt64(value interface{}) (int64, error) {
	switch t := value.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case float32:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case jsonpool.Number:
		return parseInt(t.String())
	case string:
		return parseInt(t)
	}
	return 0, errors.Newf(errors.ErrorTypeData, "cannot convert %T to an integer", value)
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errors.Newf(errors.ErrorTypeData, "cannot convert %q to an integer", s)
	}
	return int64(f), nil
}

func toFloat64(value interface{}) (float64, error) {
	switch t := value.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case jsonpool.Number:
		return parseFloat(t.String())
	case string:
		return parseFloat(t)
	}
	if n, err := toInt64(value); err == nil {
		return float64(n), nil
	}
	return 0, errors.Newf(errors.ErrorTypeData, "cannot convert %T to a number", value)
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Newf(errors.ErrorTypeData, "cannot convert %q to a number", s)
	}
	return f, nil
}

func toBool(value interface{}) (bool, error) {
	switch t := value.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, errors.Newf(errors.ErrorTypeData, "cannot convert %q to a bool", t)
		}
		return b, nil
	}
	n, err := toInt64(value)
	if err != nil {
		return false, errors.Newf(errors.ErrorTypeData, "cannot convert %T to a bool", value)
	}
	return n != 0, nil
}

func (c *Codec) toTime(value interface{}) (time.Time, error) {
	switch t := value.(type) {
	case time.Time:
		return t, nil
	case string:
		return c.ParseTime(t, c.loc())
	}
	return time.Time{}, errors.Newf(errors.ErrorTypeData, "cannot convert %T to a time", value)
}

// ParseTime reads the wire date layouts; text without an offset is taken to
// be in loc.
func (c *Codec) ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf(errors.ErrorTypeData, "cannot parse time %q", s)
}
