// Package errors provides coded, actionable errors for the wsession command
// line and config loader.
//
// Each code maps to a registered template with a category, a short message
// and a longer explanation:
//
//   - E1xx: configuration (missing or malformed files, invalid values)
//   - E2xx: command line (bad arguments, listen or dial failures)
//   - E3xx: protocol and session runtime (rejected handshakes, expiry)
//
// # Usage
//
//	err := errors.New(errors.CodeInvalidValue).
//	    WithDetail("server.session_timeout must be positive").
//	    WithLocation("wsession.yaml", 4, 20).
//	    WithSuggestion(`Use a duration such as "5m"`)
//
//	errors.PrintError(err)
//	// ERROR E102: Invalid configuration value
//	//
//	//   wsession.yaml:4:20
//	//
//	//        2 │ server:
//	//        3 │   addr: ":8080"
//	//   →    4 │   session_timeout: -1m
//	//          │                    ^
//	//  ...
package errors
