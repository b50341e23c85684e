// Package notifier announces newly accepted notices.
//
// Notify only enqueues; a single worker delivers in enqueue order to every
// configured Sender (Slack incoming webhook, Telegram). Delivery is paced by a
// token bucket and each send is bounded by a timeout. Failures are logged and
// counted, never returned to the caller that enqueued the notice.
//
// Stop drains whatever is still queued until its context expires, so a
// one-shot run can exit without dropping alerts it already accepted.
package notifier
