package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Read decodes one little-endian value of type T from the front of data.
func Read[T any](data []byte) (T, error) {
	var val T
	reader := bytes.NewReader(data)
	if err := binary.Read(reader, binary.LittleEndian, &val); err != nil {
		return val, fmt.Errorf("decode %T: %w", val, err)
	}
	return val, nil
}

// Write encodes val little-endian into the front of data. The destination
// must be large enough to hold the encoded value.
func Write[T any](data []byte, val T) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, binary.LittleEndian, val)
	Assert(err == nil)
	Assert(len(data) >= buf.Len())
	copy(data, buf.Bytes())
}

func AlignTo(val, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) &^ (align - 1)
}

func RemoveIf[T any](elems []T, condition func(T) bool) []T {
	out := elems[:0]
	for _, elem := range elems {
		if !condition(elem) {
			out = append(out, elem)
		}
	}
	return out
}

func Assert(condition bool) {
	if !condition {
		panic("assertion failed")
	}
}
