// Package memory provides in-process implementations of the messaging stores, transport and scheduler.
//
// A mutex stands in for the row locks of a relational store: claims are atomic, held rows can be
// simulated with OutboxTable.Hold, and inbox transactions are serialized. The package is intended
// for tests and local development.
package memory
