package orchestrator

// SplitTasks divides total tasks across workers as evenly as possible, giving the
// remainder to the first units. Entries may be zero when workers exceeds total;
// such units are not dispatched.
func SplitTasks(total, workers int) []int {
	if workers < 1 {
		workers = 1
	}
	if total < 0 {
		total = 0
	}
	split := make([]int, workers)
	base, rem := total/workers, total%workers
	for i := range split {
		split[i] = base
		if i < rem {
			split[i]++
		}
	}
	return split
}
