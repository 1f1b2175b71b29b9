// Package logx configures dealbot's structured logging.
//
// Logger is a thin value type over zerolog:
//   - Console output stays readable (short timestamp + file:line caller)
//   - File output is JSON, one event per line
//   - An optional chat sink forwards warnings to the operator log chat
//     (min-level + rate limited, never blocks the caller)
package logx
