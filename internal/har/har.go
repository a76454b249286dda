// Package har turns a recorded HTTP Archive (HAR 1.2) into a benchmark script:
// one http_client fixture per host and one http_request benchmark per entry.
package har

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"
)

// Entry is the request half of a HAR entry plus the recorded response status.
type Entry struct {
	Method  string
	URL     string
	Headers []Header
	Body    string
	Status  int
}

// Header is one recorded request header. HAR keeps duplicates and order.
type Header struct {
	Name  string
	Value string
}

// ParseFile reads and parses a HAR file from disk.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open HAR file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the entries of a HAR document. Entries without a request are
// skipped.
func Parse(r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read HAR data: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty HAR data")
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("failed to parse HAR JSON")
	}
	log := gjson.GetBytes(data, "log")
	if !log.IsObject() {
		return nil, errors.New("invalid HAR: missing log")
	}

	var entries []Entry
	log.Get("entries").ForEach(func(_, item gjson.Result) bool {
		req := item.Get("request")
		if !req.IsObject() || req.Get("url").String() == "" {
			return true
		}
		e := Entry{
			Method: req.Get("method").String(),
			URL:    req.Get("url").String(),
			Body:   req.Get("postData.text").String(),
			Status: int(item.Get("response.status").Int()),
		}
		req.Get("headers").ForEach(func(_, h gjson.Result) bool {
			e.Headers = append(e.Headers, Header{Name: h.Get("name").String(), Value: h.Get("value").String()})
			return true
		})
		entries = append(entries, e)
		return true
	})
	return entries, nil
}
