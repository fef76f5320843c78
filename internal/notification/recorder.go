package notification

import "sync"

// Recorder is a channel that keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records n
func (r *Recorder) Send(n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Close is a no-op
func (r *Recorder) Close() error {
	return nil
}

// Notifications returns a copy of everything recorded so far
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Last returns the most recent notification
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Notification{}, false
	}
	return r.sent[len(r.sent)-1], true
}

// Messages returns the recorded messages in order
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Message
	}
	return out
}

// Reset forgets everything recorded
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
