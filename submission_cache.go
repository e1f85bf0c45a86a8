package lifeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/spacesvm/lifeline/types"
)

// SubmissionStatus represents the result of checking a submission store
type SubmissionStatus int

const (
	// StatusNotFound means no cached result and no in-flight submission.
	StatusNotFound SubmissionStatus = iota
	// StatusCached means an accepted result was found.
	StatusCached
	// StatusInFlight means another caller is currently submitting this pair.
	StatusInFlight
)

// SubmissionStore deduplicates submissions of the same (message, signature)
// pair. Implementations must be safe for concurrent use.
type SubmissionStore interface {
	// CheckAndMark atomically checks the store and marks the key as in-flight if needed.
	//
	// Returns:
	//   - StatusCached + result + nil: an accepted result exists, return it immediately
	//   - StatusInFlight + nil + done: another caller is submitting, wait on done
	//   - StatusNotFound + nil + done: this caller should proceed (now marked in-flight)
	CheckAndMark(ctx context.Context, key string) (SubmissionStatus, *SubmissionResult, chan struct{}, error)

	// WaitForResult waits for an in-flight submission to complete.
	// A nil result means the other submission did not succeed and the caller may retry.
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*SubmissionResult, error)

	// Complete caches an accepted result and releases waiters.
	Complete(ctx context.Context, key string, result SubmissionResult, done chan struct{})

	// Fail clears the in-flight marker without caching, releasing waiters.
	Fail(ctx context.Context, key string, done chan struct{})
}

// GenerateSubmissionKey derives the deduplication key of a signed message:
// SHA256 over the EIP-712 digest followed by the signature bytes.
func GenerateSubmissionKey(message types.TypedData, signature Signature) (string, error) {
	digest, err := message.Hash()
	if err != nil {
		return "", fmt.Errorf("failed to hash message: %w", err)
	}
	h := sha256.New()
	h.Write(digest)
	h.Write(signature)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SubmissionCache is the in-memory SubmissionStore.
// It suits a single process; see extensions/idempotency for a shared store.
type SubmissionCache struct {
	mu       sync.Mutex
	results  map[string]SubmissionResult
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSubmissionCache creates a cache that keeps accepted results for ttl
func NewSubmissionCache(ttl time.Duration) *SubmissionCache {
	return &SubmissionCache{
		results:  make(map[string]SubmissionResult),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// CheckAndMark implements SubmissionStore
func (c *SubmissionCache) CheckAndMark(ctx context.Context, key string) (SubmissionStatus, *SubmissionResult, chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return StatusCached, &result, nil, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done, nil
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done, nil
}

// WaitForResult implements SubmissionStore
func (c *SubmissionCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SubmissionResult, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns a cached, unexpired result or nil
func (c *SubmissionCache) Get(key string) *SubmissionResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	result := c.results[key]
	return &result
}

// Complete implements SubmissionStore
func (c *SubmissionCache) Complete(ctx context.Context, key string, result SubmissionResult, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = result
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail implements SubmissionStore
func (c *SubmissionCache) Fail(ctx context.Context, key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *SubmissionCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
