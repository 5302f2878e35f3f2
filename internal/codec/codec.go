// Package codec converts session payloads to and from their stored byte form.
//
// A stored payload is a single format-version byte followed by exactly one
// CBOR map. CBOR keeps the blob compact while still carrying its own
// structure, so no schema is needed to decode it.
package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is written as the first byte of every encoded payload.
const FormatVersion byte = 1

// cborMajorMap is the CBOR major type of a map header.
const cborMajorMap = 5

var (
	// ErrDecode is returned when bytes cannot be turned back into a payload.
	ErrDecode = errors.New("decode payload")

	// ErrEncode is returned when a payload holds values CBOR cannot represent.
	ErrEncode = errors.New("encode payload")

	// ErrUnsupportedVersion is returned for blobs written by another format version.
	ErrUnsupportedVersion = errors.New("unsupported payload format version")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	encOpts.TimeTag = cbor.EncTagRequired
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: build cbor enc mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
		IntDec:         cbor.IntDecConvertSigned,
		UTF8:           cbor.UTF8DecodeInvalid,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: build cbor dec mode: %v", err))
	}
}

// CBOR is the default payload codec. The zero value is ready to use.
type CBOR struct{}

// Encode implements the session codec contract.
func (CBOR) Encode(data map[string]any) ([]byte, error) { return Encode(data) }

// Decode implements the session codec contract.
func (CBOR) Decode(b []byte) (map[string]any, error) { return Decode(b) }

// Encode serializes a payload. A nil payload is stored as the empty map.
func Encode(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}

	body, err := encMode.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	// Refuse anything Decode would reject later, e.g. uint64 above MaxInt64.
	if err := decMode.Unmarshal(body, &map[string]any{}); err != nil {
		return nil, fmt.Errorf("%w: payload would not decode: %w", ErrEncode, err)
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, FormatVersion)
	return append(out, body...), nil
}

// Decode parses a blob produced by Encode. It never returns a partial payload:
// anything other than a well-formed, current-version map is an error.
func Decode(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if b[0] != FormatVersion {
		return nil, fmt.Errorf("%w: %w %d", ErrDecode, ErrUnsupportedVersion, b[0])
	}

	body := b[1:]
	if len(body) == 0 || body[0]>>5 != cborMajorMap {
		return nil, fmt.Errorf("%w: body is not a map", ErrDecode)
	}

	data := map[string]any{}
	if err := decMode.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return data, nil
}
