package store

import (
	"encoding/json"
	"fmt"
)

// Keyed is a pointer to a domain record that accepts its document id.
type Keyed[T any] interface {
	*T
	SetKey(id string)
}

// DecodeAs unmarshals a document into a record and sets its id.
func DecodeAs[T any, P Keyed[T]](doc Document) (T, error) {
	var v T
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", doc.ID, err)
	}
	P(&v).SetKey(doc.ID)
	return v, nil
}

// DecodeAllAs decodes every document, skipping the ones that do not fit T.
// The number of skipped documents is returned alongside.
func DecodeAllAs[T any, P Keyed[T]](docs []Document) ([]T, int) {
	out := make([]T, 0, len(docs))
	skipped := 0
	for _, d := range docs {
		v, err := DecodeAs[T, P](d)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped
}

// EncodeRecord marshals a record without its id.
func EncodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return Clean(data)
}
