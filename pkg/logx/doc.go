// Package logx configures the forwarder's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Call sites decoupled from the zerolog API (Field helpers)
//
// The zero value of Logger is a safe no-op, which keeps constructors and
// tests simple.
package logx
