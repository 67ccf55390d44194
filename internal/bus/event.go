package bus

import "time"

// Event is one occurrence announced on the bus: a reconcile side effect
// ("contact.updated", "thread.deleted"), a push lifecycle change
// ("push.queued", "push.sent"), or a daemon state transition
// ("daemon.status_changed"). Kind is dot-separated with the coarsest
// segment first so subscribers can filter on a prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
