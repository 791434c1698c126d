package shadow

import "sync"

// defaultLogSize bounds the rolling anomaly log. Retention beyond this is
// the caller's concern (persist via the store's save calls).
const defaultLogSize = 512

// anomalyLog is a fixed-size circular buffer of anomaly Results.
// Goroutine-safe: a validator instance may be shared across passes.
type anomalyLog struct {
	mu    sync.Mutex
	buf   []Result
	size  int
	head  int // next write position
	count int // number of valid entries (0..size)
}

func newAnomalyLog(size int) *anomalyLog {
	if size <= 0 {
		size = defaultLogSize
	}
	return &anomalyLog{
		buf:  make([]Result, size),
		size: size,
	}
}

// push adds an anomaly, overwriting the oldest if full.
func (l *anomalyLog) push(r Result) {
	l.mu.Lock()
	l.buf[l.head] = r
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}
	l.mu.Unlock()
}

// last returns the n most recent anomalies in chronological order.
// If n > count, returns all. If n <= 0, returns nil.
func (l *anomalyLog) last(n int) []Result {
	if n <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return nil
	}
	if n > l.count {
		n = l.count
	}

	result := make([]Result, n)
	start := (l.head - n + l.size) % l.size
	if start+n <= l.size {
		copy(result, l.buf[start:start+n])
	} else {
		first := l.size - start
		copy(result, l.buf[start:])
		copy(result[first:], l.buf[:n-first])
	}
	return result
}

func (l *anomalyLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
