// Package queue paces how fast queued mutations are applied against the
// remote API, per entity type and per user.
//
// The sync pool asks the Manager for a slot before applying each
// mutation. Pacing exists for remote-API fairness: a device coming back
// online after a long gap holds hundreds of mutations, and replaying
// them at full speed trips the API's rate limits and starves other
// entity types behind one bulky stream.
//
// # Per-Type Configuration
//
// Use [Config] to set per-entity-type rate limits and concurrency caps:
//
//	queue.Config{
//	    EntityType:     mutation.EntityWorkoutLog,
//	    MaxConcurrency: 2,     // at most 2 log applies inflight
//	    RateLimit:      5,     // max 5 applies/s for workout logs
//	    RateBurst:      10,    // allow bursts up to 10
//	}
//
// # Manager
//
// [Manager] enforces the limits at apply time with a token-bucket rate
// limiter (golang.org/x/time/rate) and an active-count gate:
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(mut.EntityType, mut.UserID) {
//	    defer m.Release(mut.EntityType, mut.UserID)
//	    // apply the mutation
//	}
//
// A denied Acquire is not an error; the mutation stays eligible and the
// next pass picks it up. Entity types without a [Config] have no limits
// beyond the pool-wide concurrency. [UserConfig] adds a second axis for
// coach profiles syncing several athlete accounts from one device.
package queue
