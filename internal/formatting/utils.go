package formatting

import (
	"encoding/json"
	"fmt"
	"io"
)

// writeJSON writes v to w as indented JSON followed by a newline. HTML
// characters are left unescaped so reasons such as "<none>" print as-is.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}
