package recording

import "time"

// SetClock replaces the recorder's time source.
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}
