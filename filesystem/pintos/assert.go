package pintos

import "fmt"

// assertf panics if cond is false. It marks invariant violations that mean
// on-disk or in-memory state has been corrupted by a bug in this package
// (bad magic, a pinned slot with nowhere to evict to, an unbalanced
// deny-write count) rather than anything a caller passed in, mirroring how
// the source treats ASSERT failures as unrecoverable.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
