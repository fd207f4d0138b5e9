// Package logx wraps zerolog behind a tiny facade so components can take a
// Logger value without caring about sink wiring. The Service owns the sinks
// (console and optional JSON file) and can re-apply config at runtime while
// previously handed-out loggers keep working.
package logx
