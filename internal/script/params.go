package script

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// params gives typed access to a fixture's or benchmark's params block and
// remembers which keys were read so that typos can be reported.
type params struct {
	owner string
	m     map[string]any
	used  map[string]bool
}

func newParams(owner string, m map[string]any) *params {
	if m == nil {
		m = map[string]any{}
	}
	return &params{owner: owner, m: m, used: map[string]bool{}}
}

func (p *params) lookup(key string) (any, bool) {
	p.used[key] = true
	v, ok := p.m[key]
	if ok && v == nil {
		return nil, false
	}
	return v, ok
}

func (p *params) errorf(key, format string, args ...any) error {
	return fmt.Errorf("%s: param %q: %s", p.owner, key, fmt.Sprintf(format, args...))
}

func (p *params) String(key, def string) (string, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case int, int64, float64, bool:
		return fmt.Sprint(val), nil
	default:
		return "", p.errorf(key, "expected a string, got %T", v)
	}
}

func (p *params) Int(key string, def int) (int, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != math.Trunc(val) {
			return 0, p.errorf(key, "expected an integer, got %v", val)
		}
		return int(val), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, p.errorf(key, "expected an integer, got %q", val)
		}
		return n, nil
	default:
		return 0, p.errorf(key, "expected an integer, got %T", v)
	}
}

func (p *params) Bool(key string, def bool) (bool, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return false, p.errorf(key, "expected a boolean, got %q", val)
		}
		return b, nil
	default:
		return false, p.errorf(key, "expected a boolean, got %T", v)
	}
}

// Duration accepts Go duration strings or a number of milliseconds.
func (p *params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return 0, p.errorf(key, "invalid duration %q", val)
		}
		return d, nil
	case int:
		return time.Duration(val) * time.Millisecond, nil
	case float64:
		return time.Duration(val * float64(time.Millisecond)), nil
	default:
		return 0, p.errorf(key, "expected a duration, got %T", v)
	}
}

func (p *params) StringMap(key string) (map[string]string, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, p.errorf(key, "expected a mapping, got %T", v)
	}
	out := make(map[string]string, len(raw))
	for k, item := range raw {
		switch val := item.(type) {
		case string:
			out[k] = val
		case int, int64, float64, bool:
			out[k] = fmt.Sprint(val)
		default:
			return nil, p.errorf(key, "value for %q must be scalar, got %T", k, item)
		}
	}
	return out, nil
}

func (p *params) IntList(key string) ([]int, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		sub := newParams(p.owner, map[string]any{key: item})
		n, err := sub.Int(key, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (p *params) List(key string) ([]any, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, p.errorf(key, "expected a list, got %T", v)
	}
	return items, nil
}

// Map returns a nested mapping, or nil when the key is absent.
func (p *params) Map(key string) (map[string]any, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, p.errorf(key, "expected a mapping, got %T", v)
	}
	return m, nil
}

// StringList accepts a list of scalars or a single space-separated string.
func (p *params) StringList(key string) ([]string, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		return strings.Fields(s), nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, p.errorf(key, "expected a list, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch val := item.(type) {
		case string:
			out = append(out, val)
		case int, int64, float64, bool:
			out = append(out, fmt.Sprint(val))
		default:
			return nil, p.errorf(key, "items must be scalar, got %T", item)
		}
	}
	return out, nil
}

// Raw returns the value as decoded.
func (p *params) Raw(key string) (any, bool) {
	return p.lookup(key)
}

// Unused reports keys that were never read.
func (p *params) Unused() error {
	var unknown []string
	for k := range p.m {
		if !p.used[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%s: unknown params %s", p.owner, strings.Join(unknown, ", "))
}
