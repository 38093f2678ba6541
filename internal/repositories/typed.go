package repositories

import (
	"encoding/json"
	"fmt"

	"github.com/desertthunder/murmur/internal/shared"
)

// Collection is a decoded document of records of one type.
type Collection[T any] struct {
	Version int64
	Records []T
}

// LoadCollection reads key from store and decodes its records.
//
// Records that do not decode into T make the whole collection unreadable: it is reported and treated as empty,
// keeping the version so the next save overwrites it.
func LoadCollection[T any](store Store, key string) (Collection[T], error) {
	doc, err := store.Load(key)
	if err != nil {
		return Collection[T]{}, err
	}

	records := make([]T, 0, len(doc.Records))
	for i, raw := range doc.Records {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			store.Report(key, fmt.Errorf("%w: record %d: %v", shared.ErrMalformedData, i, err))
			return Collection[T]{Version: doc.Version, Records: []T{}}, nil
		}
		records = append(records, rec)
	}
	return Collection[T]{Version: doc.Version, Records: records}, nil
}

// SaveCollection encodes c and saves it under key with c.Version as the expected version.
func SaveCollection[T any](store Store, key string, c Collection[T]) (int64, error) {
	raws := make([]json.RawMessage, 0, len(c.Records))
	for i, rec := range c.Records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to encode %s record %d: %v", shared.ErrStorage, key, i, err)
		}
		raws = append(raws, raw)
	}
	return store.Save(key, Document{Version: c.Version, Records: raws})
}
