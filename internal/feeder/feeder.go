// Package feeder loads tabular test data (CSV or JSON) once and hands each task
// executor its own cursor over the rows.
package feeder

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

// Record represents a single row of data with named fields.
type Record map[string]string

// ErrExhausted is returned when a non-cycling cursor has handed out every record.
var ErrExhausted = errors.New("feeder exhausted: no more records available")

// Dataset is an immutable, loaded set of records. It is safe to share.
type Dataset struct {
	name    string
	records []Record
}

// Load reads path, choosing the format from format ("csv" or "json") or, when
// format is empty, from the file extension.
func Load(path, format string) (*Dataset, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	switch format {
	case "csv":
		records, err = readCSV(f)
	case "json":
		records, err = readJSON(f)
	default:
		return nil, fmt.Errorf("%s: unsupported data format %q (use csv or json)", path, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Dataset{name: path, records: records}, nil
}

// NewDataset wraps in-memory records.
func NewDataset(name string, records []Record) (*Dataset, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: dataset has no records", name)
	}
	return &Dataset{name: name, records: records}, nil
}

// Len returns the total number of records in the dataset.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Name returns the file or label the dataset was built from.
func (d *Dataset) Name() string {
	return d.name
}

// Order selects how a cursor walks the dataset.
type Order string

const (
	Sequential Order = "sequential"
	Random     Order = "random"
)

// Cursor is one executor's position in a dataset. Cursors are not safe for
// concurrent use; each executor owns its own.
type Cursor struct {
	data  *Dataset
	order Order
	cycle bool
	next  int
	rng   *rand.Rand
}

// Cursor returns a new cursor. Sequential cursors start at offset (modulo the
// dataset length) so that executors can be spread over the data; cycle makes
// them wrap around instead of returning ErrExhausted. Random cursors never
// exhaust.
func (d *Dataset) Cursor(order Order, cycle bool, offset int, seed uint64) *Cursor {
	c := &Cursor{data: d, order: order, cycle: cycle}
	if order == Random {
		c.rng = rand.New(rand.NewPCG(seed, uint64(offset)))
	} else if cycle && len(d.records) > 0 {
		c.next = offset % len(d.records)
	}
	return c
}

// Next returns the next record.
func (c *Cursor) Next() (Record, error) {
	n := len(c.data.records)
	if c.order == Random {
		return c.data.records[c.rng.IntN(n)], nil
	}
	if c.next >= n {
		if !c.cycle {
			return nil, ErrExhausted
		}
		c.next = 0
	}
	rec := c.data.records[c.next]
	c.next++
	return rec, nil
}

// Dataset returns the dataset the cursor walks.
func (c *Cursor) Dataset() *Dataset {
	return c.data
}
