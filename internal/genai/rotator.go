package genai

import "sync"

// Rotator cycles through a provider's API credentials. The cursor only moves
// on Advance: a credential that keeps succeeding keeps serving, and a later
// call resumes wherever the last rotation left off.
type Rotator struct {
	mu    sync.Mutex
	creds []string
	idx   int
}

// NewRotator creates a rotator over the given credentials, dropping empty
// entries.
func NewRotator(creds []string) *Rotator {
	kept := make([]string, 0, len(creds))
	for _, c := range creds {
		if c != "" {
			kept = append(kept, c)
		}
	}
	return &Rotator{creds: kept}
}

// Len returns the number of credentials.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creds)
}

// Current returns the active credential and its index.
func (r *Rotator) Current() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.creds) == 0 {
		return "", 0
	}
	return r.creds[r.idx], r.idx
}

// Advance moves the cursor to the next credential, wrapping around.
func (r *Rotator) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.creds) == 0 {
		return
	}
	r.idx = (r.idx + 1) % len(r.creds)
}
