package channel

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/c360/semchannels/errors"
)

// Codec converts channel messages to and from bytes. The protocol never
// looks inside the bytes.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// JSONCodec encodes messages as JSON.
type JSONCodec[T any] struct{}

// Marshal implements Codec.
func (JSONCodec[T]) Marshal(v T) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Codec.
func (JSONCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, decodeError("JSONCodec", err)
	}
	return v, nil
}

// YAMLCodec encodes messages as YAML.
type YAMLCodec[T any] struct{}

// Marshal implements Codec.
func (YAMLCodec[T]) Marshal(v T) ([]byte, error) {
	return yaml.Marshal(v)
}

// Unmarshal implements Codec.
func (YAMLCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	if err := yaml.Unmarshal(data, &v); err != nil {
		return v, decodeError("YAMLCodec", err)
	}
	return v, nil
}

// BytesCodec passes raw bytes through.
type BytesCodec struct{}

// Marshal implements Codec.
func (BytesCodec) Marshal(v []byte) ([]byte, error) {
	return v, nil
}

// Unmarshal implements Codec.
func (BytesCodec) Unmarshal(data []byte) ([]byte, error) {
	return data, nil
}

func decodeError(codec string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecodeFailed, err), codec, "Unmarshal", "decode message")
}
