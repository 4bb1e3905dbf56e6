// Package messaging provides a transactional outbox/inbox delivery engine with pluggable storage backends.
//
// Typical flow:
//  1. Within a business transaction, write an outbox record (Outbox.Enqueue or a store-specific insert).
//  2. Run an event or webhook outbox Worker on a timer (see Runner). Each pass selects due rows, leases them
//     with a short skip-locked transaction and delivers them outside of any transaction.
//  3. On success the row becomes sent; on failure attempts grow and the row is retried with backoff until
//     the attempt ceiling turns it into a permanent failure.
//
// On the consuming side, Inbox.Process runs a handler at most once per message id by combining an
// insert-dedup, a blocking row lock and a status transition in one transaction.
//
// Storage backends live in the postgres, mysql and memory packages.
package messaging
