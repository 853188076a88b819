// Package ratelimit paces the requests a single platform client makes.
//
// Every client built by the instagram factory gets its own limiter from
// FromConfig and calls Wait before each request, so sessions leased in
// parallel are paced independently.
//
// Limiters:
//
//   - TokenBucket: starts full with rate_limit.burst_size tokens and regains
//     one token every minute / rate_limit.requests_per_minute.
//   - Unlimited: used when requests_per_minute is zero or when no limiter is
//     given to the client.
//
// Wait returns ctx.Err() when the context is done before a token is free,
// which the client reports as a cancelled request.
//
// Usage:
//
//	limiter := ratelimit.FromConfig(cfg.RateLimit)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
//	// send the request
package ratelimit
