// Package outbox implements the transactional-outbox delivery pipeline.
//
// An Event is saved in the same database transaction as the business state
// that produced it, then dispatched asynchronously by the Dispatcher: a
// polling loop that claims a batch of unprocessed rows, publishes each event
// through the handler Registry, and marks the ones whose handlers succeeded
// as processed, all inside one transaction.
//
// Delivery is at-least-once, not exactly-once. A claimed event whose handler
// fails stays claimed and becomes claimable again after the backend's lock
// timeout, so handlers must be idempotent.
//
// Two Store backends satisfy the same claim contract: outbox/postgres uses
// native row locking (FOR UPDATE SKIP LOCKED) and outbox/sqlite uses an
// atomic PENDING->PROCESSING status flip with a lock timeout for crash
// recovery.
package outbox
