// Package postgres implements the messaging stores, transport and scheduler on PostgreSQL using pgx.
//
// Every type takes a DB, which is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx. Binding an
// OutboxTable to a pgx.Tx makes Insert part of the caller's business transaction.
//
// Outbox claims use FOR UPDATE SKIP LOCKED and evaluate the due rule with now(). Inbox claims use a
// plain FOR UPDATE so a concurrent delivery of the same message waits for the first one to finish.
package postgres
