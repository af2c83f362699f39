package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// ReplayRecord is the response remembered for an Idempotency-Key: enough
// to answer a retry byte-for-byte without re-running the handler.
type ReplayRecord struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// IdempotencyStore persists responses keyed by Idempotency-Key. A Lookup
// miss is not an error; it just means the request runs.
type IdempotencyStore interface {
	Lookup(key string) (*ReplayRecord, bool)
	Save(key string, rec ReplayRecord)
}

// MemoryIdempotencyStore keeps replay records in a map. Expired entries
// are dropped lazily on Lookup and swept during Save once the map grows,
// so the store needs no background goroutine.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]ReplayRecord
	ttl     time.Duration
}

const memorySweepThreshold = 4096

// NewMemoryIdempotencyStore creates an in-memory store whose records
// expire after ttl.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		records: make(map[string]ReplayRecord),
		ttl:     ttl,
	}
}

func (s *MemoryIdempotencyStore) Lookup(key string) (*ReplayRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if time.Since(rec.StoredAt) > s.ttl {
		delete(s.records, key)
		return nil, false
	}
	return &rec, true
}

func (s *MemoryIdempotencyStore) Save(key string, rec ReplayRecord) {
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= memorySweepThreshold {
		cutoff := time.Now().Add(-s.ttl)
		for k, r := range s.records {
			if r.StoredAt.Before(cutoff) {
				delete(s.records, k)
			}
		}
	}
	s.records[key] = rec
}

// recordingWriter tees the response into a buffer while writing through,
// so the client still streams and the record is complete.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
	header http.Header
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.status = code
	rw.header = rw.ResponseWriter.Header().Clone()
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *recordingWriter) snapshot() ReplayRecord {
	hdr := rw.header
	if hdr == nil {
		hdr = rw.ResponseWriter.Header().Clone()
	}
	return ReplayRecord{
		Status: rw.status,
		Header: hdr,
		Body:   rw.body.Bytes(),
	}
}

func mutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// IdempotencyMiddleware makes mutating requests that carry an
// Idempotency-Key header safe to retry: the first 2xx response under a
// key is recorded, and every later request with the same key is answered
// from the record. A client whose submission timed out on the wire can
// resend it without paying a second deposit. Replays are marked with an
// Idempotent-Replay header.
func IdempotencyMiddleware(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" || !mutatingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if rec, ok := store.Lookup(key); ok {
				for name, vals := range rec.Header {
					w.Header()[name] = vals
				}
				w.Header().Set("Idempotent-Replay", "true")
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Body)
				return
			}

			rw := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			// Failures are not recorded; the client may retry them for real.
			if rw.status >= 200 && rw.status < 300 {
				store.Save(key, rw.snapshot())
			}
		})
	}
}
