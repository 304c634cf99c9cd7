package utils

import "encoding/json"

// UnmarshalJSON decodes data into v. Thin wrapper so callers in usecase
// code do not import encoding/json just for payload decoding.
func UnmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
