// Package mysql implements the messaging outbox and inbox stores on MySQL 8.0+.
//
// Outbox claims use:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED on a single id
//   - a due re-check against UTC_TIMESTAMP(6)
//
// Timestamps are DATETIME(6) in UTC. Open the pool with parseTime=true and the default loc=UTC.
//
// See Schema for the DDL and CleanupMaintainer for periodic removal of delivered rows.
package mysql
