// Package handler turns typed request handlers into http.HandlerFunc values.
//
// A HandlerFunc receives a Context and an already decoded request value and
// returns a Response. Wrap runs the configured binders, calls the handler
// and renders the result; binding and render failures go to an
// ErrorHandler, which by default answers with the JSON error envelope:
//
//	{"error": {"code": "invalid_plan", "message": "Bad Request"}}
//
// Successful responses are encoded as-is with JSON, so the wire shape is
// whatever the handler returns.
//
// Errors carry their HTTP mapping through HTTPError (status plus a stable
// code key) and ValidationError (per-field messages, 422). Anything else is
// reported as a 500 with code internal_error; the original error text is
// logged but never written to the client.
package handler
