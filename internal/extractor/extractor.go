// Package extractor pulls values out of response bodies with JSON path or regex
// rules. Extracted values become the recorded return value of a workload call.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Extractor defines one extraction rule for a response body.
type Extractor struct {
	// Name keys the value when several rules are applied.
	Name string

	// JSONPath is a gjson path expression ("$.user.id", "user.id", "items.#.id").
	JSONPath string

	// Regex is a pattern with an optional capture group.
	Regex string

	re *regexp.Regexp
}

// New validates a rule. Exactly one of jsonPath and regex must be set.
func New(name, jsonPath, regex string) (*Extractor, error) {
	jsonPath = strings.TrimSpace(jsonPath)
	if (jsonPath == "") == (regex == "") {
		return nil, fmt.Errorf("extractor %q: exactly one of json path or regex is required", name)
	}
	e := &Extractor{Name: name, JSONPath: jsonPath, Regex: regex}
	if regex != "" {
		re, err := regexp.Compile(regex)
		if err != nil {
			return nil, fmt.Errorf("extractor %q: invalid regex: %w", name, err)
		}
		e.re = re
	}
	return e, nil
}

// Extract applies the rule. JSON paths yield typed values (float64, string, bool,
// map, slice); regexes yield the first capture group or the whole match.
func (e *Extractor) Extract(body []byte) (any, bool) {
	if e.JSONPath != "" {
		return findJSONPath(body, e.JSONPath)
	}
	re := e.re
	if re == nil {
		var err error
		if re, err = regexp.Compile(e.Regex); err != nil {
			return nil, false
		}
	}
	return findRegex(body, re)
}

// ExtractAll applies every rule and returns the values keyed by rule name.
// Rules that find nothing map to nil and are logged at debug level.
func ExtractAll(body []byte, extractors []*Extractor, logger *zap.Logger) map[string]any {
	result := make(map[string]any, len(extractors))
	for _, e := range extractors {
		value, ok := e.Extract(body)
		if !ok && logger != nil {
			logger.Debug("extractor found no value",
				zap.String("name", e.Name),
				zap.String("json_path", e.JSONPath),
				zap.String("regex", e.Regex),
			)
		}
		result[e.Name] = value
	}
	return result
}
