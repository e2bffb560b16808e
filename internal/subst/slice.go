package subst

// pySlice applies Python-style slice semantics (negative indices wrap,
// nil bounds mean "to the end"/"to the start" depending on step sign) to
// xs, returning the selected elements in order.
func pySlice(xs []string, startPtr, endPtr, stepPtr *int) []string {
	n := len(xs)
	step := 1
	if stepPtr != nil {
		step = *stepPtr
	}
	if step == 0 {
		step = 1
	}

	var start, end int
	if step > 0 {
		if startPtr == nil {
			start = 0
		} else {
			start = clampIndex(*startPtr, n, step)
		}
		if endPtr == nil {
			end = n
		} else {
			end = clampIndex(*endPtr, n, step)
		}
	} else {
		if startPtr == nil {
			start = n - 1
		} else {
			start = clampIndex(*startPtr, n, step)
		}
		if endPtr == nil {
			end = -1
		} else {
			end = clampIndex(*endPtr, n, step)
		}
	}

	var out []string
	if step > 0 {
		for i := start; i < end; i += step {
			if i >= 0 && i < n {
				out = append(out, xs[i])
			}
		}
	} else {
		for i := start; i > end; i += step {
			if i >= 0 && i < n {
				out = append(out, xs[i])
			}
		}
	}
	return out
}

// clampIndex reproduces CPython's slice.indices() index normalization for
// one bound: negative values wrap from the end; out-of-range values clamp
// to the nearest valid bound for the slice direction given by step.
func clampIndex(v, n, step int) int {
	if v < 0 {
		v += n
		if v < 0 {
			if step < 0 {
				return -1
			}
			return 0
		}
		return v
	}
	if v >= n {
		if step < 0 {
			return n - 1
		}
		return n
	}
	return v
}
