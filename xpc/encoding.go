package xpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	objectMagic   = uint32(0x42133742)
	objectVersion = uint32(0x00000005)
)

type objectType uint32

const (
	boolType       = objectType(0x00002000)
	int64Type      = objectType(0x00003000)
	uint64Type     = objectType(0x00004000)
	dataType       = objectType(0x00008000)
	stringType     = objectType(0x00009000)
	uuidType       = objectType(0x0000a000)
	arrayType      = objectType(0x0000e000)
	dictionaryType = objectType(0x0000f000)
)

// The wire encoding of booleans is inverted: a zero byte means true. Devices
// expect exactly this, so it is kept as is rather than fixed.
const (
	boolWireTrue  = byte(0)
	boolWireFalse = byte(1)
)

// Encode serializes o into the binary object format, prefixed with the 8-byte
// object header. Encoding only fails on trees that violate the model's
// invariants, e.g. a dictionary key containing a NUL byte.
func Encode(o Object) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	header := struct {
		Magic   uint32
		Version uint32
	}{objectMagic, objectVersion}
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("Encode: failed to write object header: %w", err)
	}
	if err := encodeObject(buf, o); err != nil {
		return nil, fmt.Errorf("Encode: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeObject(w io.Writer, o Object) error {
	switch t := o.(type) {
	case Bool:
		return encodeBool(w, bool(t))
	case Int64:
		return encodeInt64(w, int64(t))
	case UInt64:
		return encodeUint64(w, uint64(t))
	case String:
		return encodeString(w, string(t))
	case Data:
		return encodeData(w, t)
	case UUID:
		return encodeUuid(w, t)
	case Array:
		return encodeArray(w, t)
	case *Dictionary:
		return encodeDictionary(w, t)
	case nil:
		return fmt.Errorf("encodeObject: cannot encode a nil object")
	default:
		return fmt.Errorf("encodeObject: cannot encode type %T", o)
	}
}

func encodeBool(w io.Writer, b bool) error {
	out := struct {
		T   objectType
		B   byte
		Pad [3]byte
	}{T: boolType, B: boolWireFalse}
	if b {
		out.B = boolWireTrue
	}
	if err := binary.Write(w, binary.LittleEndian, out); err != nil {
		return fmt.Errorf("encodeBool: failed to write data: %w", err)
	}
	return nil
}

func encodeInt64(w io.Writer, i int64) error {
	out := struct {
		T objectType
		I int64
	}{int64Type, i}
	if err := binary.Write(w, binary.LittleEndian, out); err != nil {
		return fmt.Errorf("encodeInt64: failed to write data: %w", err)
	}
	return nil
}

func encodeUint64(w io.Writer, i uint64) error {
	out := struct {
		T objectType
		I uint64
	}{uint64Type, i}
	if err := binary.Write(w, binary.LittleEndian, out); err != nil {
		return fmt.Errorf("encodeUint64: failed to write data: %w", err)
	}
	return nil
}

func encodeString(w io.Writer, s string) error {
	// the length on the wire includes the NUL terminator
	header := struct {
		T objectType
		L uint32
	}{stringType, uint32(len(s) + 1)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("encodeString: failed to write header: %w", err)
	}
	padded := make([]byte, len(s)+1+int(calcPadding(len(s)+1)))
	copy(padded, s)
	if _, err := w.Write(padded); err != nil {
		return fmt.Errorf("encodeString: failed to write string payload: %w", err)
	}
	return nil
}

func encodeData(w io.Writer, b []byte) error {
	header := struct {
		T objectType
		L uint32
	}{dataType, uint32(len(b))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("encodeData: failed to write header: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("encodeData: failed to write payload: %w", err)
	}
	if _, err := w.Write(make([]byte, calcPadding(len(b)))); err != nil {
		return fmt.Errorf("encodeData: failed to write padding: %w", err)
	}
	return nil
}

func encodeUuid(w io.Writer, u UUID) error {
	header := struct {
		T objectType
		L uint32
	}{uuidType, 16}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("encodeUuid: failed to write header: %w", err)
	}
	if _, err := w.Write(u[:]); err != nil {
		return fmt.Errorf("encodeUuid: failed to write UUID payload: %w", err)
	}
	return nil
}

func encodeArray(w io.Writer, arr Array) error {
	header := struct {
		T        objectType
		Reserved uint32
		Count    uint32
	}{arrayType, 0, uint32(len(arr))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("encodeArray: failed to write array header: %w", err)
	}
	for i, e := range arr {
		if err := encodeObject(w, e); err != nil {
			return fmt.Errorf("encodeArray: failed to encode element %d: %w", i, err)
		}
	}
	return nil
}

func encodeDictionary(w io.Writer, d *Dictionary) error {
	header := struct {
		T        objectType
		Reserved uint32
		Count    uint32
	}{dictionaryType, 0, uint32(d.Len())}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("encodeDictionary: failed to write dictionary header: %w", err)
	}
	for _, k := range d.keys {
		if err := encodeDictionaryKey(w, k); err != nil {
			return fmt.Errorf("encodeDictionary: failed to encode key %q: %w", k, err)
		}
		if err := encodeObject(w, d.values[k]); err != nil {
			return fmt.Errorf("encodeDictionary: failed to encode value for key %q: %w", k, err)
		}
	}
	return nil
}

func encodeDictionaryKey(w io.Writer, k string) error {
	if strings.IndexByte(k, 0) >= 0 {
		return fmt.Errorf("encodeDictionaryKey: key contains a NUL byte")
	}
	strLen := len(k) + 1
	content := make([]byte, strLen+int(calcPadding(strLen)))
	copy(content, k)
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("encodeDictionaryKey: failed to write data: %w", err)
	}
	return nil
}

// Decode parses a single object tree out of data. Every length and count in
// data is treated as untrusted, no read ever runs past the end of the buffer.
func Decode(data []byte) (Object, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("Decode: %d bytes are too short for the object header: %w", len(data), ErrTruncated)
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != objectMagic {
		return nil, fmt.Errorf("Decode: wrong object magic 0x%08x: %w", magic, ErrBadMagic)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != objectVersion {
		return nil, fmt.Errorf("Decode: expected version 0x%08x but got 0x%08x: %w", objectVersion, version, ErrBadMagic)
	}
	o, err := decodeObject(bytes.NewReader(data[8:]))
	if err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	return o, nil
}

func decodeObject(r *bytes.Reader) (Object, error) {
	tag, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decodeObject: could not read type: %w", err)
	}
	switch objectType(tag) {
	case boolType:
		return decodeBool(r)
	case int64Type:
		return decodeInt64(r)
	case uint64Type:
		return decodeUint64(r)
	case stringType:
		return decodeString(r)
	case dataType:
		return decodeData(r)
	case uuidType:
		return decodeUuid(r)
	case arrayType:
		return decodeArray(r)
	case dictionaryType:
		return decodeDictionary(r)
	default:
		return nil, fmt.Errorf("decodeObject: can't handle type 0x%08x: %w", tag, ErrUnknownType)
	}
}

func decodeBool(r *bytes.Reader) (Object, error) {
	b, err := readBytes(r, 4)
	if err != nil {
		return nil, fmt.Errorf("decodeBool: %w", err)
	}
	return Bool(b[0] == boolWireTrue), nil
}

func decodeInt64(r *bytes.Reader) (Object, error) {
	i, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("decodeInt64: %w", err)
	}
	return Int64(int64(i)), nil
}

func decodeUint64(r *bytes.Reader) (Object, error) {
	i, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("decodeUint64: %w", err)
	}
	return UInt64(i), nil
}

func decodeString(r *bytes.Reader) (Object, error) {
	l, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decodeString: failed to read string length: %w", err)
	}
	if l == 0 {
		return nil, fmt.Errorf("decodeString: zero length leaves no room for the terminator: %w", ErrMalformedString)
	}
	b, err := readBytes(r, l)
	if err != nil {
		return nil, fmt.Errorf("decodeString: failed to read string payload: %w", err)
	}
	if b[l-1] != 0 {
		return nil, fmt.Errorf("decodeString: missing NUL terminator: %w", ErrMalformedString)
	}
	s := string(b[:l-1])
	if strings.IndexByte(s, 0) >= 0 {
		return nil, fmt.Errorf("decodeString: embedded NUL byte: %w", ErrMalformedString)
	}
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("decodeString: payload is not valid UTF-8: %w", ErrMalformedString)
	}
	if err := skipPadding(r, int(l)); err != nil {
		return nil, fmt.Errorf("decodeString: %w", err)
	}
	return String(s), nil
}

func decodeData(r *bytes.Reader) (Object, error) {
	l, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decodeData: failed to read payload length: %w", err)
	}
	b, err := readBytes(r, l)
	if err != nil {
		return nil, fmt.Errorf("decodeData: failed to read payload: %w", err)
	}
	if err := skipPadding(r, int(l)); err != nil {
		return nil, fmt.Errorf("decodeData: %w", err)
	}
	return Data(b), nil
}

func decodeUuid(r *bytes.Reader) (Object, error) {
	l, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decodeUuid: failed to read length: %w", err)
	}
	if l != 16 {
		return nil, fmt.Errorf("decodeUuid: unexpected length %d for a UUID: %w", l, ErrTruncated)
	}
	b, err := readBytes(r, 16)
	if err != nil {
		return nil, fmt.Errorf("decodeUuid: failed to read payload: %w", err)
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("decodeUuid: failed to parse UUID: %w", err)
	}
	return UUID(u), nil
}

func decodeArray(r *bytes.Reader) (Object, error) {
	// the u32 before the count is reserved, nothing is known to use it
	if _, err := readUint32(r); err != nil {
		return nil, fmt.Errorf("decodeArray: failed to read reserved field: %w", err)
	}
	count, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decodeArray: failed to read number of elements: %w", err)
	}
	// count is untrusted, grow instead of pre-allocating
	arr := make(Array, 0)
	for i := uint32(0); i < count; i++ {
		e, err := decodeObject(r)
		if err != nil {
			return nil, fmt.Errorf("decodeArray: failed to decode element %d: %w", i, err)
		}
		arr = append(arr, e)
	}
	return arr, nil
}

func decodeDictionary(r *bytes.Reader) (Object, error) {
	if _, err := readUint32(r); err != nil {
		return nil, fmt.Errorf("decodeDictionary: failed to read reserved field: %w", err)
	}
	count, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decodeDictionary: failed to read number of entries: %w", err)
	}
	dict := NewDictionary()
	for i := uint32(0); i < count; i++ {
		key, err := readDictionaryKey(r)
		if err != nil {
			return nil, fmt.Errorf("decodeDictionary: failed to read key of entry %d: %w", i, err)
		}
		value, err := decodeObject(r)
		if err != nil {
			return nil, fmt.Errorf("decodeDictionary: failed to decode value for key %q: %w", key, err)
		}
		dict.Set(key, value)
	}
	return dict, nil
}

func readDictionaryKey(r *bytes.Reader) (string, error) {
	var b strings.Builder
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("readDictionaryKey: key is not NUL terminated: %w", ErrTruncated)
		}
		if c != 0 {
			b.WriteByte(c)
			continue
		}
		s := b.String()
		if !utf8.ValidString(s) {
			return "", fmt.Errorf("readDictionaryKey: key is not valid UTF-8: %w", ErrMalformedString)
		}
		if err := skipPadding(r, len(s)+1); err != nil {
			return "", fmt.Errorf("readDictionaryKey: %w", err)
		}
		return s, nil
	}
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("readUint32: %w", ErrTruncated)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("readUint64: %w", ErrTruncated)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// readBytes rejects lengths beyond the remaining buffer before allocating, a
// lying length field must not trigger a huge allocation.
func readBytes(r *bytes.Reader, n uint32) ([]byte, error) {
	if uint64(n) > uint64(r.Len()) {
		return nil, fmt.Errorf("readBytes: need %d bytes but only %d are left: %w", n, r.Len(), ErrTruncated)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("readBytes: %w", ErrTruncated)
	}
	return b, nil
}

func skipPadding(r *bytes.Reader, l int) error {
	if _, err := readBytes(r, uint32(calcPadding(l))); err != nil {
		return fmt.Errorf("skipPadding: %w", err)
	}
	return nil
}

func calcPadding(l int) int64 {
	c := int(math.Ceil(float64(l) / 4.0))
	return int64(c*4 - l)
}
