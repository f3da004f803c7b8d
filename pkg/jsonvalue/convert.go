package jsonvalue

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
)

// From converts a Go value into a Value. Supported inputs are nil, *Value,
// bool, all integer and float kinds, string, json.Number, time.Time
// (RFC 3339 text), slices, and maps with string keys.
func From(x interface{}) (*Value, error) {
	switch t := x.(type) {
	case nil:
		return NewNull(), nil
	case *Value:
		return orNull(t), nil
	case bool:
		return NewBool(t), nil
	case string:
		return NewString(t), nil
	case gojson.Number:
		return NewNumber(t.String())
	case int:
		return NewInt(int64(t)), nil
	case int32:
		return NewInt(int64(t)), nil
	case int64:
		return NewInt(t), nil
	case float32:
		return &Value{kind: KindNumber, num: strconv.FormatFloat(float64(t), 'f', -1, 32)}, nil
	case float64:
		return NewFloat(t), nil
	case time.Time:
		return NewString(t.Format(time.RFC3339)), nil
	case []string:
		arr := NewArray()
		for _, s := range t {
			arr.Append(NewString(s))
		}
		return arr, nil
	case []int32:
		arr := NewArray()
		for _, n := range t {
			arr.Append(NewInt(int64(n)))
		}
		return arr, nil
	case []int64:
		arr := NewArray()
		for _, n := range t {
			arr.Append(NewInt(n))
		}
		return arr, nil
	case []interface{}:
		arr := NewArray()
		for _, it := range t {
			c, err := From(it)
			if err != nil {
				return nil, err
			}
			arr.Append(c)
		}
		return arr, nil
	case map[string]interface{}:
		obj := NewObject()
		for _, k := range sortedMapKeys(t) {
			c, err := From(t[k])
			if err != nil {
				return nil, err
			}
			obj.Set(k, c)
		}
		return obj, nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NewNumber(fmt.Sprint(x))
	case reflect.Slice, reflect.Array:
		arr := NewArray()
		for i := 0; i < rv.Len(); i++ {
			c, err := From(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			arr.Append(c)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("jsonvalue: unsupported type %T", x)
}

// MustFrom is From for values known to be convertible.
func MustFrom(x interface{}) *Value {
	v, err := From(x)
	if err != nil {
		panic(err)
	}
	return v
}

// ToAny converts v into plain Go values: nil, bool, json.Number, string,
// []interface{} and map[string]interface{}.
func (v *Value) ToAny() interface{} {
	switch v.Kind() {
	case KindBool:
		return v.b
	case KindNumber:
		return gojson.Number(v.num)
	case KindString:
		return v.str
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, it := range v.arr {
			out[i] = it.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.keys))
		for _, k := range v.keys {
			out[k] = v.obj[k].ToAny()
		}
		return out
	default:
		return nil
	}
}

func sortedMapKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
