// Package output emits machine-readable NDJSON records so CI systems and
// agents can consume results without scraping text.
package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// NDJSONWriter writes one JSON object per line.
type NDJSONWriter struct {
	w io.Writer
}

func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{w: w}
}

// WriteEvent writes a record with a type tag plus the given fields.
func (n *NDJSONWriter) WriteEvent(eventType string, fields map[string]interface{}) {
	record := map[string]interface{}{"type": eventType}
	for k, v := range fields {
		record[k] = v
	}
	n.write(record)
}

// WriteError writes a stable machine-readable error record.
func (n *NDJSONWriter) WriteError(code, message string, hint ...string) {
	record := map[string]interface{}{
		"type":    "error",
		"code":    code,
		"message": message,
	}
	if len(hint) > 0 && hint[0] != "" {
		record["hint"] = hint[0]
	}
	n.write(record)
}

func (n *NDJSONWriter) write(record map[string]interface{}) {
	data, err := json.Marshal(record)
	if err != nil {
		fmt.Fprintf(n.w, `{"type":"error","code":"ENCODE","message":%q}`+"\n", err.Error())
		return
	}
	n.w.Write(append(data, '\n'))
}
