package output

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/crankbench/internal/results"
)

// CSVHeader is the column order of exported samples.
var CSVHeader = []string{"benchmark", "worker", "timestamp", "execution_time", "return_value"}

const lockRetryDelay = 50 * time.Millisecond

// WriteCSV writes the header and one row per sample. timestamp is seconds since
// the Unix epoch and execution_time is in milliseconds. Failed sets are left
// out: their samples are partial and the file has nowhere to say so.
func WriteCSV(w io.Writer, sets []results.Set, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(CSVHeader); err != nil {
			return err
		}
	}
	for _, s := range results.Succeeded(sets) {
		for _, sample := range s.Samples {
			record := []string{
				s.Benchmark,
				strconv.Itoa(sample.Worker),
				strconv.FormatFloat(sample.Seconds(), 'f', 6, 64),
				strconv.FormatFloat(sample.LatencyMs(), 'f', 6, 64),
				formatValue(sample.Value),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// AppendCSV appends samples to path, writing the header when the file is new or
// empty. Concurrent writers to the same path are serialized by an advisory lock
// on the file itself.
func AppendCSV(ctx context.Context, path string, sets []results.Set) error {
	lock := flock.New(path, flock.SetPermissions(0o644))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", path)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := WriteCSV(f, sets, info.Size() == 0); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	case int, int64, int32, float64, float32, bool, uint, uint64, uint32:
		return fmt.Sprint(val)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}
