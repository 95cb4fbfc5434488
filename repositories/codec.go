package repositories

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Values are stored as protobuf Struct messages so records stay readable
// by any protobuf tooling without a dedicated schema.

func marshalRecord(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build record: %w", err)
	}
	return proto.Marshal(s)
}

func unmarshalRecord(data []byte) (*structpb.Struct, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &s, nil
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func timeField(s *structpb.Struct, name string) time.Time {
	raw := stringField(s, name)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// maxConflictRetries bounds optimistic retries when concurrent transactions touch the same keys.
const maxConflictRetries = 8

// update runs fn in a read-write transaction, retrying on badger.ErrConflict.
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
	return err
}

// scanPage reads up to limit keys with the given prefix strictly after the `after` key.
// An empty after starts at the beginning of the prefix.
func scanPage(db *badger.DB, prefix []byte, after []byte, limit int, visit func(key, value []byte) error) (last []byte, count int, err error) {
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = limit
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if len(after) > 0 {
			seek = after
		}
		for it.Seek(seek); it.ValidForPrefix(prefix) && count < limit; it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if len(after) > 0 && string(key) == string(after) {
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := visit(key, value); err != nil {
				return err
			}
			last = key
			count++
		}
		return nil
	})
	return last, count, err
}
