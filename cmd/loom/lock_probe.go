package main

import "github.com/gofrs/flock"

// tryProbeLock attempts a non-blocking acquire on the daemon lock.
// Success means no daemon holds it; the probe releases immediately.
func tryProbeLock(path string) (bool, error) {
	probe := flock.New(path)
	ok, err := probe.TryLock()
	if err != nil {
		return false, err
	}
	if ok {
		_ = probe.Unlock()
		return false, nil
	}
	return true, nil
}
