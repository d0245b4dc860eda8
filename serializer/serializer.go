package serializer

import (
	jsoniter "github.com/json-iterator/go"
)

// Serializer turns event payloads and descriptors into bytes and back.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonSerializer struct {
	api jsoniter.API
}

// JSON is the default Serializer.
var JSON Serializer = jsonSerializer{api: jsoniter.ConfigCompatibleWithStandardLibrary}

func (s jsonSerializer) Marshal(v any) ([]byte, error) {
	return s.api.Marshal(v)
}

func (s jsonSerializer) Unmarshal(data []byte, v any) error {
	return s.api.Unmarshal(data, v)
}
