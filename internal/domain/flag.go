package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Flag is a boolean that also accepts the string forms "true" and "false".
// The restaurant API echoes is_favorite back as a string after an update.
type Flag bool

// MarshalJSON always writes a JSON boolean.
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}

// UnmarshalJSON accepts true/false, "true"/"false" and null (false).
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("flag: unsupported value %s", data)
	}
	if s == "" {
		*f = false
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("flag: %w", err)
	}
	*f = Flag(b)
	return nil
}
