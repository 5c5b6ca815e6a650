// Package logx configures qoemeter's structured logging.
//
// Logger is a small wrapper on top of zerolog:
//   - Console output stays readable (short timestamp and caller)
//   - File output is JSON lines
//   - Loggers derived from a Service follow its Apply calls, so a config
//     reload changes level and sinks without rebuilding components
package logx
