// Package log provides secure logging functionality with automatic sanitization
// of sensitive information, built on top of the standard slog package.
//
// A crawler handles cookies, authenticated URLs and the occasional token
// copied from a site configuration. The SecureHandler masks them:
//   - Credential headers (Authorization, X-Api-Key) and secret-looking keys
//   - Cookie strings, keeping the cookie names: "a=1; b=2" becomes "a=***; b=***"
//   - Bearer, Basic and JWT values detected by pattern matching
//   - User info and credential query parameters inside URL attributes
//
// Even in verbose mode, sensitive values are masked so that logs can be
// shared without leaking a site's session.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, true) // verbose=true
//
//	logger.Info("request sent",
//	    "cookie", "session=abc123", // logged as "session=***"
//	    "url", "https://example.com/?token=x",
//	)
//
//	slog.SetDefault(logger)
package log
