package fileutil

import (
	"bytes"
	"encoding/json"
	"io"
)

func PrintJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(value)
}

// MarshalStable renders value as indented JSON with a trailing newline. Map
// keys are sorted by encoding/json, which keeps artifact bytes reproducible.
func MarshalStable(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := PrintJSON(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
