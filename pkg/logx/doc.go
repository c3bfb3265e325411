// Package logx configures mailbot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - Optional file output JSON-structured
//   - The active level swappable at runtime (config reload)
package logx
