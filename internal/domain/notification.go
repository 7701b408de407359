package domain

import (
	"context"
	"time"
)

// Notification is one bucket-event message from the source topic: the object
// key of a newly published GFS file. Commit acknowledges the message after
// the hour has been durably registered; leaving it uncommitted makes the
// broker redeliver it to a later consumer.
type Notification struct {
	Key       string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time

	Commit func(ctx context.Context) error
}
