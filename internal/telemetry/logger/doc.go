// Package logger provides structured logging for warmstart.
//
// It wraps the standard library log/slog:
//
//   - logger.go: handler setup, dynamic level, lifecycle message helper
//   - redact.go: sensitive data redaction
//
// Lifecycle transitions are logged with a stable message code as the first
// token of the message (for example "WSCR0102I: checkpoint taken"). The code
// is repeated in the msg_code attribute, followed by structured args.
// Values of sensitive keys are replaced before they reach the handler;
// fingerprint markers produced by the reconciler pass through unchanged.
//
// @design DS-0402
package logger
