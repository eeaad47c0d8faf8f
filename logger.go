package kernel

// Logger defines the interface for kernel logging.
// The kernel uses structured logging with key-value pairs so that embedding
// applications control how activation and teardown logs appear.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This is compatible with log/slog, zap's SugaredLogger (via an adapter, see
// package logging) and similar libraries.
type Logger interface {
	// Info logs deployment level events such as a unit being deployed.
	Info(msg string, args ...any)

	// Error logs bean and deployment failures.
	Error(msg string, args ...any)

	// Warn logs conditions that are unusual but do not fail a deployment.
	Warn(msg string, args ...any)

	// Debug logs per-bean state transitions.
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
