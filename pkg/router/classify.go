package router

import "net/http"

// Classify maps a request to exactly one Operation.
//
// The rules are applied in a fixed priority order and the first match wins:
//
//  1. POST with a file part or protocol field     -> Upload
//  2. DELETE                                      -> Revert
//  3. GET/HEAD with ?fetch                        -> FetchRemote
//  4. GET with ?restore                           -> Restore
//  5. GET with ?load                              -> LoadLocal
//  6. PATCH/HEAD with ?patch                      -> Patch
//  7. anything else                               -> Unknown
//
// Classify has no side effects.
func Classify(req *Request) Operation {
	method := req.Method

	switch {
	case method == http.MethodPost && req.HasPayload():
		return Upload
	case method == http.MethodDelete:
		return Revert
	case (method == http.MethodGet || method == http.MethodHead) && req.HasQuery(QueryFetch):
		return FetchRemote
	case method == http.MethodGet && req.HasQuery(QueryRestore):
		return Restore
	case method == http.MethodGet && req.HasQuery(QueryLoad):
		return LoadLocal
	case (method == http.MethodPatch || method == http.MethodHead) && req.HasQuery(QueryPatch):
		return Patch
	default:
		return Unknown
	}
}
