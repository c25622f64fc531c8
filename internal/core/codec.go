package core

import "encoding/json"

// Decode unmarshals one relay frame into its payload type.
func Decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
