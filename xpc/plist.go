package xpc

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"howett.net/plist"
)

// FromPlist converts a generic property list value tree, as produced by
// unmarshalling with howett.net/plist into an empty interface, to an Object.
// Dictionary keys are sorted so the result is deterministic, Go maps have no
// document order to preserve.
//
// Dates, reals and UIDs have no place in the object model and fail with
// ErrUnsupportedValue instead of silently dropping data. Unsigned integers
// above MaxInt64 fail for the same reason, the conversion targets Int64.
func FromPlist(v interface{}) (Object, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := NewDictionary()
		for _, k := range keys {
			value, err := FromPlist(t[k])
			if err != nil {
				return nil, fmt.Errorf("FromPlist: key %q: %w", k, err)
			}
			dict.Set(k, value)
		}
		return dict, nil
	case []interface{}:
		arr := make(Array, 0, len(t))
		for i, e := range t {
			value, err := FromPlist(e)
			if err != nil {
				return nil, fmt.Errorf("FromPlist: index %d: %w", i, err)
			}
			arr = append(arr, value)
		}
		return arr, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Data(t), nil
	case int:
		return Int64(t), nil
	case int8:
		return Int64(t), nil
	case int16:
		return Int64(t), nil
	case int32:
		return Int64(t), nil
	case int64:
		return Int64(t), nil
	case uint:
		return fromPlistUnsigned(uint64(t))
	case uint8:
		return Int64(t), nil
	case uint16:
		return Int64(t), nil
	case uint32:
		return Int64(t), nil
	case uint64:
		return fromPlistUnsigned(t)
	case time.Time:
		return nil, fmt.Errorf("FromPlist: dates cannot be represented: %w", ErrUnsupportedValue)
	case float32, float64:
		return nil, fmt.Errorf("FromPlist: reals cannot be represented: %w", ErrUnsupportedValue)
	case plist.UID:
		return nil, fmt.Errorf("FromPlist: UIDs cannot be represented: %w", ErrUnsupportedValue)
	default:
		return nil, fmt.Errorf("FromPlist: no mapping for type %T: %w", v, ErrUnsupportedValue)
	}
}

func fromPlistUnsigned(v uint64) (Object, error) {
	if v > math.MaxInt64 {
		return nil, fmt.Errorf("fromPlistUnsigned: %d overflows a signed integer: %w", v, ErrUnsupportedValue)
	}
	return Int64(int64(v)), nil
}

// ToPlist converts o back to a generic property list value tree. UUIDs become
// their canonical string form, property lists have no native UUID type, and
// both integer variants map to plist integers.
func ToPlist(o Object) interface{} {
	switch t := o.(type) {
	case Bool:
		return bool(t)
	case Int64:
		return int64(t)
	case UInt64:
		return uint64(t)
	case String:
		return string(t)
	case Data:
		return []byte(t)
	case UUID:
		return uuid.UUID(t).String()
	case Array:
		arr := make([]interface{}, len(t))
		for i, e := range t {
			arr[i] = ToPlist(e)
		}
		return arr
	case *Dictionary:
		dict := make(map[string]interface{}, t.Len())
		for _, k := range t.keys {
			dict[k] = ToPlist(t.values[k])
		}
		return dict
	}
	return nil
}

// ConvertValue serializes any Go value through its property list
// representation and converts the result to an Object. Failures to serialize
// wrap ErrConvert, they indicate a type that has no property list form rather
// than bad input data.
func ConvertValue(v interface{}) (Object, error) {
	b, err := plist.Marshal(v, plist.BinaryFormat)
	if err != nil {
		return nil, fmt.Errorf("ConvertValue: failed to serialize %T: %v: %w", v, err, ErrConvert)
	}
	var generic interface{}
	if _, err := plist.Unmarshal(b, &generic); err != nil {
		return nil, fmt.Errorf("ConvertValue: failed to deserialize %T: %v: %w", v, err, ErrConvert)
	}
	o, err := FromPlist(generic)
	if err != nil {
		return nil, fmt.Errorf("ConvertValue: %w", err)
	}
	return o, nil
}
