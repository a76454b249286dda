package feeder

import (
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

// readJSON parses an array of flat objects. Nested values are kept as their raw
// JSON text.
func readJSON(r io.Reader) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read JSON: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("decode JSON: invalid document")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return nil, errors.New("decode JSON: expected an array of objects")
	}

	var records []Record
	var bad error
	doc.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			bad = fmt.Errorf("record %d is not an object", len(records))
			return false
		}
		record := make(Record)
		item.ForEach(func(key, value gjson.Result) bool {
			switch value.Type {
			case gjson.String:
				record[key.String()] = value.Str
			default:
				record[key.String()] = value.Raw
			}
			return true
		})
		if len(record) == 0 {
			bad = fmt.Errorf("record %d is empty", len(records))
			return false
		}
		records = append(records, record)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	if len(records) == 0 {
		return nil, errors.New("JSON file contains empty array")
	}
	return records, nil
}
