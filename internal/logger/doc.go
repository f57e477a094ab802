// Package logger wraps zap for the flashing station:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag and config,
//   - per-level helpers (Infof, ErrorKV, etc.).
//
// Services receive a context and pull the logger from it, so subprocess
// output, device keys and run ids stay attached to every line.
package logger
