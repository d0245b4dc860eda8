package serializer

import (
	"github.com/pkg/errors"

	"github.com/iidesho/aggregates/crypto"
)

type encrypted struct {
	inner Serializer
	key   crypto.Key
}

// Encrypted wraps inner so that everything it produces is sealed with key before it reaches the backing store.
func Encrypted(inner Serializer, key crypto.Key) Serializer {
	return encrypted{
		inner: inner,
		key:   key,
	}
}

func (s encrypted) Marshal(v any) ([]byte, error) {
	data, err := s.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return crypto.Encrypt(data, s.key)
}

func (s encrypted) Unmarshal(data []byte, v any) error {
	plain, err := crypto.Decrypt(data, s.key)
	if err != nil {
		return errors.Wrap(err, "decrypting")
	}
	return s.inner.Unmarshal(plain, v)
}
