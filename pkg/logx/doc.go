// Package logx configures pulsewire's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional operator alerts over the messaging gateway (min-level + rate limiting)
package logx
