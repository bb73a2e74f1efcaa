package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JSONB is stored as a jsonb column in postgres
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSONB scan: %T", value)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}

	result := JSONB{}
	if err := json.Unmarshal(data, &result); err != nil {
		return errors.New("failed to unmarshal JSONB value: " + err.Error())
	}
	*j = result
	return nil
}
