// Package llm provides an OpenRouter chat client used by the stage agents,
// the feedback extractor, and the scene reviewer.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive JSON content and usage.
// Client.HealthCheck: verify API key and model availability.
// DecodeJSON: decode model output that may be wrapped in code fences or prose.
//
// # Cost
//
// Requests ask the provider to include usage accounting. The returned
// Completion.Usage sums every billed attempt, including attempts that were
// retried, and is populated even when CompleteJSON returns an error.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty completions, and
// network timeouts with jittered exponential backoff (base 1s, max 10s, up
// to 4 attempts by default). A Retry-After header replaces the computed
// delay. Context cancellation aborts retries immediately.
// Temporary lets callers classify the final error the same way.
package llm
