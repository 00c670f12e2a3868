package model

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

var stringType = reflect.TypeOf("")

// FlexString decodes from a JSON string, number or bool. Feeds disagree on
// whether ids and titles are quoted.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v.(type) {
	case float64, bool:
		*f = FlexString(b)
		return nil
	}
	return &json.UnmarshalTypeError{Value: string(b), Type: stringType}
}

// Trimmed returns the value with surrounding whitespace removed.
func (f FlexString) Trimmed() string { return strings.TrimSpace(string(f)) }
