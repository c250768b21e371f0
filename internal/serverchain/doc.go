// Package gateway provides the composable StreamHandler/StreamMiddleware
// chain the HTTP router wraps around the tool-invocation loop's streaming
// entrypoint, plus LoggingMiddleware, the gateway's one built-in middleware.
package gateway
