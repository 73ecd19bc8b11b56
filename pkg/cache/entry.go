package cache

import (
	"net/http"
	"time"
)

// Entry is a captured HTTP exchange result. Entries are never modified once
// they are stored; a refresh replaces the entry with a new one.
type Entry struct {
	Key    string
	Status int
	Reason string
	Header http.Header
	// Length is the declared body length, nil when the origin did not send one.
	Length    *int64
	Body      []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

func NewEntry(key string, status int, reason string, header http.Header, length *int64, body []byte, ttl time.Duration) *Entry {
	now := time.Now()
	e := &Entry{
		Key:       key,
		Status:    status,
		Reason:    reason,
		Header:    header,
		Length:    length,
		Body:      body,
		CreatedAt: now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

func (e *Entry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}

func (e *Entry) Age() time.Duration {
	return time.Since(e.CreatedAt)
}
