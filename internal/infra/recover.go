package infra

import (
	"log/slog"
	"os"
	"runtime/debug"
)

// Recover is deferred at the top of main. It logs a panic with its stack
// and exits with status 1.
func Recover() {
	if p := recover(); p != nil {
		slog.Error("💥 Unhandled panic",
			slog.Any("panic", p),
			slog.String("stack", string(debug.Stack())))
		os.Exit(1)
	}
}
