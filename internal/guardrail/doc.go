// Package guardrail implements the admission gate that runs before a render
// job is enqueued. It combines a per-user token-bucket rate limiter with
// daily quota, credit balance, and spend cap checks read from the cost
// ledger. Admission is read-only: a rejected request leaves no trace in the
// ledger or the queue.
package guardrail
