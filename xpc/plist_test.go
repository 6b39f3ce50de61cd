package xpc

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

func TestFromPlist(t *testing.T) {
	o, err := FromPlist(map[string]interface{}{
		"name":  "device",
		"count": uint64(3),
		"ok":    true,
		"raw":   []byte{0x01, 0x02},
		"list":  []interface{}{int64(-1), "two"},
	})
	require.NoError(t, err)

	dict, ok := AsDictionary(o)
	require.True(t, ok)
	// map keys carry no order, the conversion sorts them
	assert.Equal(t, []string{"count", "list", "name", "ok", "raw"}, dict.Keys())

	v, _ := dict.Get("count")
	assert.Equal(t, Int64(3), v)
	v, _ = dict.Get("name")
	assert.Equal(t, String("device"), v)
	v, _ = dict.Get("ok")
	assert.Equal(t, Bool(true), v)
	v, _ = dict.Get("raw")
	assert.Equal(t, Data{0x01, 0x02}, v)
	v, _ = dict.Get("list")
	assert.Equal(t, Array{Int64(-1), String("two")}, v)
}

func TestFromPlistUnsupportedValues(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{"date", time.Now()},
		{"real", float64(1.5)},
		{"uid", plist.UID(7)},
		{"unsigned overflow", uint64(1) << 63},
		{"nested unsupported", map[string]interface{}{"inner": float32(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromPlist(tt.input)
			assert.ErrorIs(t, err, ErrUnsupportedValue)
		})
	}
}

func TestToPlist(t *testing.T) {
	u := uuid.MustParse("4588d2db-2340-6c41-be63-4596c6ae7fe3")
	o := NewDictionary().
		Set("id", UUID(u)).
		Set("signed", Int64(-1)).
		Set("unsigned", UInt64(2)).
		Set("values", Array{Bool(false), String("x"), Data{0x03}})

	v := ToPlist(o)
	assert.Equal(t, map[string]interface{}{
		"id":       "4588d2db-2340-6c41-be63-4596c6ae7fe3",
		"signed":   int64(-1),
		"unsigned": uint64(2),
		"values":   []interface{}{false, "x", []byte{0x03}},
	}, v)
}

func TestConvertValue(t *testing.T) {
	type launchOptions struct {
		BundleID          string   `plist:"bundleIdentifier"`
		Arguments         []string `plist:"arguments"`
		TerminateExisting bool     `plist:"terminateExisting"`
	}
	o, err := ConvertValue(launchOptions{
		BundleID:          "com.example.app",
		Arguments:         []string{"-v"},
		TerminateExisting: true,
	})
	require.NoError(t, err)

	dict, ok := AsDictionary(o)
	require.True(t, ok)
	v, _ := dict.Get("bundleIdentifier")
	assert.Equal(t, String("com.example.app"), v)
	v, _ = dict.Get("arguments")
	assert.Equal(t, Array{String("-v")}, v)
	v, _ = dict.Get("terminateExisting")
	assert.Equal(t, Bool(true), v)
}

func TestConvertValueRejectsReals(t *testing.T) {
	type withReal struct {
		Ratio float64 `plist:"ratio"`
	}
	_, err := ConvertValue(withReal{Ratio: 0.5})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestConvertedValueRoundTripsOnTheWire(t *testing.T) {
	o, err := ConvertValue(map[string]string{"key": "value"})
	require.NoError(t, err)
	b, err := Encode(o)
	require.NoError(t, err)
	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, o, decoded)
}
