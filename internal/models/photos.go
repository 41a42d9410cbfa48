package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PhotoList stores listing photo filenames as a JSON array in a single text
// column so the same model works on Postgres and the sqlite test driver.
type PhotoList []string

// Value implements driver.Valuer.
func (p PhotoList) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *PhotoList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported photo list source type %T", src)
	}
}
