package queue

// processAlive is conservative on Windows: an existing lock is never
// treated as stale.
func processAlive(int) bool { return true }
