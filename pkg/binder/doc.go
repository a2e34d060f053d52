// Package binder decodes HTTP request bodies into typed request structs.
//
// Binders share the signature func(*http.Request, any) error so they plug
// directly into handler.WithBinders:
//
//	http.HandleFunc("/checkout", handler.Wrap(createCheckout,
//		handler.WithBinders[CheckoutRequest](binder.JSON()),
//	))
//
// JSON decoding is strict: the media type must be application/json, the
// body is capped (DefaultMaxJSONSize unless WithMaxSize is given), unknown
// fields are rejected and trailing data after the first value is an error.
// Surrounding whitespace is trimmed from every decoded string field.
//
// All failures wrap one of the sentinel errors in this package so callers
// can map them to HTTP status codes with errors.Is.
package binder
