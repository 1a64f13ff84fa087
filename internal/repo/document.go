package repo

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Document is an opaque JSON value stored verbatim. Storage never interprets it.
type Document json.RawMessage

// IsEmpty reports whether the document holds no value or JSON null.
func (d Document) IsEmpty() bool {
	trimmed := bytes.TrimSpace(d)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// MarshalJSON emits the stored bytes unchanged.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.IsEmpty() {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON keeps a copy of the raw bytes.
func (d *Document) UnmarshalJSON(data []byte) error {
	if d == nil {
		return errors.New("repo: UnmarshalJSON on nil Document")
	}
	*d = append((*d)[0:0], data...)
	return nil
}

func docParam(d Document) any {
	if d.IsEmpty() {
		return nil
	}
	return string(d)
}

func docFromBytes(b []byte) Document {
	if len(b) == 0 {
		return nil
	}
	out := make(Document, len(b))
	copy(out, b)
	return out
}
