// Package fanin joins results of N concurrent subtasks into a single
// ordered callback, firing exactly once when the last one delivers.
package fanin

import "sync/atomic"

// Join launches n subtasks via spawn(i, deliver) and invokes done with the
// ordered results once all n have delivered exactly one value each.
//
// spawn is called synchronously n times; it is expected to start its work
// (e.g. on a goroutine) and call the supplied deliver func exactly once,
// from whatever goroutine produces the result. done runs on whichever
// goroutine's deliver call observes the last pending count, so it must not
// assume it runs on the caller's goroutine.
func Join[T any](n int, spawn func(i int, deliver func(T)), done func([]T)) {
	if n == 0 {
		done(nil)
		return
	}

	results := make([]T, n)
	var pending atomic.Int64
	pending.Store(int64(n))

	for i := 0; i < n; i++ {
		i := i
		spawn(i, func(v T) {
			results[i] = v
			if pending.Add(-1) == 0 {
				done(results)
			}
		})
	}
}

// JoinFuncs is a convenience wrapper over Join for the common case where
// each subtask is already a zero-argument func() T to be run on its own
// goroutine.
func JoinFuncs[T any](tasks []func() T, done func([]T)) {
	Join(len(tasks), func(i int, deliver func(T)) {
		go func() {
			deliver(tasks[i]())
		}()
	}, done)
}
