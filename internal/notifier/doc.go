// Package notifier delivers chat messages for the deal pipeline.
//
// All sends share one token-bucket rate limiter so a burst of webhook posts
// plus reminder wake-ups stays under the chat platform's flood limits.
//
// Send is synchronous (the caller needs the message reference or the error);
// Notify and Edit queue work for a small worker pool and never block the caller.
// Both paths retry transient failures with jittered exponential backoff.
package notifier
