// Package notifications pushes pipeline events to ntfy.
//
// NewService returns a no-op Service when no topic is configured, so callers
// publish unconditionally. Events are rendered into a title, message, tags and
// priority here; the workflow only supplies a Payload of plain values.
package notifications
