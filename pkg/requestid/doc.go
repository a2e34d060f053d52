// Package requestid attaches a correlation id to every HTTP request.
//
// The middleware reuses a well-formed X-Request-ID header from the caller
// (up to 128 characters of letters, digits, '-' and '_') and otherwise
// generates a UUID. The id is stored in the request context, echoed in the
// response header and picked up by the logger through LoggerExtractor:
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
//	r.Use(requestid.Middleware())
package requestid
