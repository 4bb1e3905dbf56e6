package messaging

// Status represents the lifecycle state of an outbox, inbox or scheduled record.
type Status string

const (
	// StatusPending indicates the record has not been handled yet.
	StatusPending Status = "pending"
	// StatusSent indicates an outbox record was delivered. Sent is terminal.
	StatusSent Status = "sent"
	// StatusFailed indicates the last attempt failed. Outbox rows with a next attempt time are retried,
	// rows without one are permanently failed.
	StatusFailed Status = "failed"
	// StatusProcessed indicates an inbox record was handled successfully.
	StatusProcessed Status = "processed"
)

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}
