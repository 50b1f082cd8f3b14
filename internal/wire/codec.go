package wire

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec turns payload values into bytes and back.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// JSON is the default codec.
	JSON Codec = jsonCodec{}
	// CBOR is a compact codec using Core Deterministic Encoding: the same
	// value always produces identical bytes.
	CBOR Codec = newCBORCodec()
)

// CodecByName returns the codec registered under name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want json or cbor)", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	encOptions := cbor.CoreDetEncOptions()
	// Accuracy and friends travel as their text names.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	enc, err := encOptions.EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}

	dec, err := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string                         { return "cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
