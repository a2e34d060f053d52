// Package auth verifies the HS256 access tokens issued by the account
// service and exposes their claims to HTTP handlers.
//
// Tokens are never issued here. A valid access token carries the user id in
// "sub", the active organization in "org", the member role in "role" and
// "type": "access".
//
//	verifier, err := auth.NewVerifier(cfg)
//	r.Use(auth.Middleware(verifier))
//	r.With(auth.RequireSuperadmin()).Get("/admin/mrr", h)
//
// Handlers read the verified identity with ClaimsFromContext or
// OrganizationIDFromContext.
package auth
