package feeder

import (
	"strings"
)

// Replacer returns a replacer that swaps every {{field}} for the record's value.
// Placeholders naming unknown fields are left unchanged.
func (r Record) Replacer() *strings.Replacer {
	pairs := make([]string, 0, 2*len(r))
	for key, value := range r {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...)
}

// Substitute replaces all occurrences of {{field}} in template with the
// corresponding value from record.
func Substitute(template string, record Record) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return record.Replacer().Replace(template)
}
