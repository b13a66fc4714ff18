// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteUnauthorized(w, "token expired")
//
// # Request Parsing
//
//	var req ChangePlanRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//	limit := httputil.ParseQueryInt(r, "limit", 50)
//	force, _ := httputil.ParseQueryBool(r, "force", false)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//	)
//
// Related: pkg/gate holds the credit-enforcement middleware; pkg/auth holds
// authentication middleware. This package is deliberately policy-free.
package httputil
