package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB stores T as a Postgres jsonb column
type JSONB[T any] struct {
	Data T
}

// NewJSONB wraps v for writing
func NewJSONB[T any](v T) JSONB[T] {
	return JSONB[T]{Data: v}
}

func (p *JSONB[T]) Scan(src any) error {
	var zero T
	switch v := src.(type) {
	case nil:
		p.Data = zero
		return nil
	case []byte:
		return json.Unmarshal(v, &p.Data)
	case string:
		return json.Unmarshal([]byte(v), &p.Data)
	default:
		return fmt.Errorf("JSONB.Scan: expected []byte, got %T", src)
	}
}

func (p JSONB[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(p.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// NullableJSONB writes SQL NULL for a nil pointer and jsonb otherwise
func NullableJSONB[T any](v *T) driver.Valuer {
	if v == nil {
		return nullValue{}
	}
	return JSONB[*T]{Data: v}
}

type nullValue struct{}

func (nullValue) Value() (driver.Value, error) { return nil, nil }

func (p *JSONB[T]) GetValue() T {
	return p.Data
}
