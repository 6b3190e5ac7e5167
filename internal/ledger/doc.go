// Package ledger records billable provider usage append-only and answers the
// daily spend, quota, and credit queries the guardrail gate enforces caps
// with. The aggregation window is the UTC day, matching the quota reset
// boundary.
package ledger
