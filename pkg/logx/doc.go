// Package logx configures eventreminder's structured logging.
//
// It is a thin wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional alert sink that mails WARN+ lines to operators (min-level + rate limiting)
package logx
