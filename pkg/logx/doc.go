// Package logx is stockcast's structured logging layer, a thin wrapper
// around zerolog. It renders readable console output, writes JSON to the
// optional log file, and can push warning-and-up lines into a Telegram log
// chat behind a rate limiter. Sinks reconfigure at runtime without
// invalidating existing loggers.
package logx
