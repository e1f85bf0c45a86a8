// Package idempotency provides a shared submission store for lifeline
// submission services running in more than one process.
//
// # Overview
//
// The submission service deduplicates (message, signature) pairs so that a
// signed lifeline extension settles at most once, even when a client retries
// after a transport failure. The default store lives in memory, which is
// enough for a single process. Behind a load balancer every replica must see
// the same in-flight markers and cached results, so the store moves to Redis.
//
// # Usage
//
//	client, err := idempotency.Connect(ctx, "redis://localhost:6379/0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := idempotency.NewRedisStore(client,
//	    idempotency.WithTTL(30*time.Minute),
//	)
//	submitter := lifeline.NewSubmissionService(backend,
//	    lifeline.WithSubmissionStore(store),
//	)
//
// # How It Works
//
//  1. CheckAndMark looks for a cached accepted result, then claims an
//     in-flight marker with SETNX.
//  2. Callers that lose the claim poll until a result appears or the marker
//     disappears.
//  3. Complete stores the accepted result with a TTL and drops the marker.
//  4. Fail drops the marker without caching, so the pair may be sent again.
//
// In-flight markers expire on their own, so a crashed owner cannot block a
// pair forever.
package idempotency
