// Package logx is a thin structured logging layer over zerolog.
//
// It exists so the rest of the codebase can log through a stable, small API
// while sink configuration (console, file, level) stays hot-swappable via
// Service.Apply. Loggers obtained from the Service remain live across
// config reloads; the zero Logger value is a safe no-op.
package logx
