package util

import (
	"encoding/json"
)

// Codec serializes values crossing a storage or queue boundary.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (*T, error)
}

type jsonCodec[T any] struct{}

func NewJsonCodec[T any]() Codec[T] {
	return jsonCodec[T]{}
}

func (jsonCodec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (jsonCodec[T]) Decode(data []byte) (*T, error) {
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// Clone deep-copies a value by a serialization round trip through the codec.
func Clone[T any](codec Codec[T], value T) (*T, error) {
	data, err := codec.Encode(value)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}
