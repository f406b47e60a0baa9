package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"frota/internal/core"

	"github.com/shopspring/decimal"
)

// Reserved keys never stored inside Data.
const (
	KeyID      = "id"
	KeyAccount = "accountId"
	KeyStatus  = "status"
)

// Decode parses a document body keeping numbers as json.Number.
func Decode(data []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return m, nil
}

// Clean drops the reserved keys from a document body.
func Clean(data []byte) ([]byte, error) {
	m, err := Decode(data)
	if err != nil {
		return nil, err
	}
	delete(m, KeyID)
	delete(m, KeyAccount)
	return json.Marshal(m)
}

// Merge applies patch to the top level of data.
func Merge(data []byte, patch map[string]any) ([]byte, error) {
	m, err := Decode(data)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		if k == KeyID || k == KeyAccount {
			continue
		}
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	return json.Marshal(m)
}

// Field returns the string form of a top-level field, or "" when absent.
func Field(data []byte, field string) string {
	m, err := Decode(data)
	if err != nil {
		return ""
	}
	return stringOf(m[field])
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// DecimalOf reads a counter stored as a JSON number or a decimal string.
// Absent or unreadable values count as zero.
func DecimalOf(v any) decimal.Decimal {
	switch x := v.(type) {
	case string:
		if d, err := decimal.NewFromString(x); err == nil {
			return d
		}
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(x)
	case float32:
		return decimal.NewFromFloat32(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case int32:
		return decimal.NewFromInt32(x)
	case int64:
		return decimal.NewFromInt(x)
	case decimal.Decimal:
		return x
	}
	return decimal.Zero
}

// ApplyCompletion runs the Completion rules against the current child and
// parent bodies and returns the new bodies. parent may be nil when the
// parent document does not exist; newParent is then nil as well.
func ApplyCompletion(c Completion, child, parent []byte) (newChild, newParent []byte, res CompletionResult, err error) {
	if status := core.Status(Field(child, KeyStatus)); status != core.InProgress {
		return nil, nil, res, &core.InvalidStateError{Collection: string(c.Child), ID: c.ChildID, Status: status}
	}
	newChild, err = Merge(child, c.ChildPatch)
	if err != nil {
		return nil, nil, res, err
	}
	if parent == nil {
		return newChild, nil, res, nil
	}
	m, err := Decode(parent)
	if err != nil {
		return nil, nil, res, err
	}
	if !c.Reading.GreaterThan(DecimalOf(m[c.Field])) {
		return newChild, nil, res, nil
	}
	newParent, err = Merge(parent, map[string]any{c.Field: c.Value})
	if err != nil {
		return nil, nil, res, err
	}
	res.CounterUpdated = true
	return newChild, newParent, res, nil
}

// WithID renders the document body with its id field included.
func WithID(doc Document) ([]byte, error) {
	m, err := Decode(doc.Data)
	if err != nil {
		return nil, err
	}
	m[KeyID] = doc.ID
	return json.Marshal(m)
}
