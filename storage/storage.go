package storage

import (
	"iter"
	"os"

	"github.com/iidesho/bragi/sbragi"
	jsoniter "github.com/json-iterator/go"
	"github.com/nutsdb/nutsdb"
	"github.com/pkg/errors"
)

var (
	log  = sbragi.WithLocalScope(sbragi.LevelInfo)
	json = jsoniter.ConfigFastest
)

const bucket = "values"

// Storage is a local key value store of T values.
type Storage[T any] interface {
	Set(k string, v T, opts ...OptFunc) error
	Get(k string) (v T, err error)
	Delete(k string) error
	Range() iter.Seq2[string, T]
	Close() error
}

type storage[T any] struct {
	db *nutsdb.DB
}

func New[T any](dir string) (Storage[T], error) {
	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return nil, errors.Wrap(err, "creating dir")
	}
	db, err := nutsdb.Open(
		nutsdb.DefaultOptions,
		nutsdb.WithDir(dir),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "opening kv store in %s", dir)
	}
	err = db.Update(func(tx *nutsdb.Tx) error {
		return tx.NewKVBucket(bucket)
	})
	sbragi.WithoutEscalation().WithError(err).Debug("creating kv bucket", "dir", dir)
	return storage[T]{
		db: db,
	}, nil
}

type Opt struct {
	ttl uint32
}

type OptFunc func(*Opt)

// OptTTL expires the value after ttl seconds.
func OptTTL(ttl uint32) OptFunc {
	return func(o *Opt) {
		o.ttl = ttl
	}
}

func (s storage[T]) Set(k string, v T, optFuncs ...OptFunc) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	opt := Opt{}
	for _, of := range optFuncs {
		of(&opt)
	}
	log.Trace("storing", "key", k)
	return s.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, []byte(k), b, opt.ttl)
	})
}

func (s storage[T]) Get(k string) (v T, err error) {
	log.Trace("getting", "key", k)
	var data []byte
	err = s.db.View(func(tx *nutsdb.Tx) error {
		data, err = tx.Get(bucket, []byte(k))
		return err
	})
	if err != nil {
		return
	}
	err = json.Unmarshal(data, &v)
	return
}

func (s storage[T]) Delete(k string) error {
	log.Trace("deleting", "key", k)
	return s.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Delete(bucket, []byte(k))
	})
}

func (s storage[T]) Range() iter.Seq2[string, T] {
	var keys [][]byte
	var values [][]byte
	err := s.db.View(func(tx *nutsdb.Tx) error {
		var err error
		keys, values, err = tx.GetAll(bucket)
		return err
	})
	log.WithError(err).Error("getting values for range")
	return func(yield func(string, T) bool) {
		for i := range keys {
			var v T
			err := json.Unmarshal(values[i], &v)
			if log.WithError(err).
				Error("unmarshaling value", "key", string(keys[i])) {
				continue
			}
			if !yield(string(keys[i]), v) {
				return
			}
		}
	}
}

func (s storage[T]) Close() error {
	return s.db.Close()
}
