package podio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
)

func TestTidy(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"", "", false},
		{"   ", "", false},
		{"<p></p>", "", false},
		{"<P></P>", "", false},
		{"<p>hi</p>", "hi", true},
		{"<p><p>hi</p></p>", "hi", true},
		{"plain", "plain", true},
		{"<p>only open", "only open", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Tidy(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)

			again, okAgain := Tidy(got)
			if ok {
				assert.True(t, okAgain)
				assert.Equal(t, got, again, "tidy must be idempotent")
			}
		})
	}
}

func TestCodec_ToDeclared(t *testing.T) {
	c := NewCodec(time.UTC)
	tests := []struct {
		name string
		in   string
		nt   NativeType
		dt   DeclaredType
		want interface{}
	}{
		{"null", `null`, NativeString, TypeString, nil},
		{"empty paragraph", `"<p></p>"`, NativeString, TypeString, nil},
		{"paragraph", `"<p>hi</p>"`, NativeString, TypeString, "hi"},
		{"money text is invariant", `"12.5000"`, NativeMoney, TypeString, "12.5"},
		{"blank currency", `"  "`, NativeMoney, TypeString, nil},
		{"currency code", `"EUR"`, NativeMoney, TypeString, "EUR"},
		{"number to decimal", `"12.5000"`, NativeNumber, TypeDecimal, 12.5},
		{"array to int32 array", `[1, null, 2]`, NativeCategory, TypeInt32Array, []int32{1, 2}},
		{"array to scalar takes first non-null", `[null, "a", "b"]`, NativeCategory, TypeString, "a"},
		{"empty array", `[null]`, NativeContact, TypeInt64Array, nil},
		{"object to string", `{"a":1}`, NativeString, TypeString, `{"a":1}`},
		{"json", `{"b":[1]}`, NativeString, TypeJSON, `{"b":[1]}`},
		{"bool", `true`, NativeLocation, TypeBool, true},
		{"double", `51.5`, NativeLocation, TypeDouble, 51.5},
		{"datetime", `"2024-03-01 10:00:00"`, NativeDateTime, TypeDateTime, utc(2024, 3, 1, 10, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ToDeclared(jsonvalue.MustParse(tt.in), tt.nt, tt.dt)
			require.NoError(t, err)
			if want, ok := tt.want.(time.Time); ok {
				assert.True(t, want.Equal(got.(time.Time)))
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodec_ToNative(t *testing.T) {
	c := NewCodec(time.UTC)
	tests := []struct {
		name string
		in   interface{}
		nt   NativeType
		dt   DeclaredType
		want string
	}{
		{"nil", nil, NativeString, TypeString, `null`},
		{"tidied text", "<p>x</p>", NativeString, TypeString, `"x"`},
		{"blank text", "", NativeString, TypeString, `null`},
		{"number text is trimmed", " 12.50 ", NativeNumber, TypeString, `"12.50"`},
		{"blank currency", "", NativeMoney, TypeString, `null`},
		{"currency code", "USD", NativeMoney, TypeString, `"USD"`},
		{"decimal", 12.5, NativeNumber, TypeDecimal, `12.5`},
		{"ids", []int64{1, 2}, NativeApp, TypeInt64Array, `[1,2]`},
		{"scalar wraps", int64(9), NativeApp, TypeInt64Array, `[9]`},
		{"string id", "42", NativeCategory, TypeInt32, `42`},
		{"time", time.Date(2024, 3, 1, 11, 0, 0, 0, time.FixedZone("X", 3600)), NativeDateTime, TypeDateTime, `"2024-03-01 10:00:00"`},
		{"json document", `{"a":1}`, NativeString, TypeJSON, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ToNative(tt.in, tt.nt, tt.dt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCodec_Errors(t *testing.T) {
	c := NewCodec(time.UTC)

	_, err := c.ToNative(int64(3000000000), NativeNumber, TypeInt32)
	assert.Error(t, err, "int32 overflow")

	_, err = c.ToNative("abc", NativeNumber, TypeDecimal)
	assert.Error(t, err)

	_, err = c.ToNative("not a date", NativeDateTime, TypeDateTime)
	assert.Error(t, err)
}

func TestCodec_ParseTimeInLocation(t *testing.T) {
	zone := time.FixedZone("X", 2*3600)
	got, err := NewCodec(zone).Coerce("2024-03-01 10:00:00", TypeDateTime)
	require.NoError(t, err)
	assert.True(t, utc(2024, 3, 1, 8, 0).Equal(got.(time.Time)))
}
