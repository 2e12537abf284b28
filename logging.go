// logging.go - structured logging for the mainloop package
//
// All logging goes through a logiface facade. The package logger is set with
// SetLogger; a context may override it with WithLogger. A nil logger is a
// valid, disabled logger.
//
// Entries carry a "category" field: source, context, poll, loop or thread.

package mainloop

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

var (
	// Global logger for contexts without their own.
	globalLogger struct {
		sync.RWMutex
		logger *logiface.Logger[logiface.Event]
	}
)

// SetLogger sets the package logger, used by every context created without
// WithLogger (including the default context). Nil disables logging.
func SetLogger(logger *logiface.Logger[logiface.Event]) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

// getGlobalLogger safely retrieves the global logger
func getGlobalLogger() *logiface.Logger[logiface.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// loggerFor resolves the logger for c, which may be nil.
func loggerFor(c *MainContext) *logiface.Logger[logiface.Event] {
	if c != nil && c.logger != nil {
		return c.logger
	}
	return getGlobalLogger()
}

// warnCategory keys the per-context warning limiter.
type warnCategory struct {
	kind string
	id   SourceID
}

// newWarnLimiter allows one warning per source and kind per second, and at
// most ten per minute.
func newWarnLimiter() *catrate.Limiter {
	return catrate.NewLimiter(map[time.Duration]int{
		time.Second: 1,
		time.Minute: 10,
	})
}

// allowWarning reports whether a warning of the given kind may be logged for
// the source, recording it if so.
func (c *MainContext) allowWarning(kind string, id SourceID) bool {
	_, ok := c.warnLimiter.Allow(warnCategory{kind: kind, id: id})
	return ok
}

// logSource decorates b with the identity of s.
func logSource(b *logiface.Builder[logiface.Event], s *Source) *logiface.Builder[logiface.Event] {
	b = b.Uint64("source", uint64(s.ID()))
	if name := s.Name(); name != "" {
		b = b.Str("name", name)
	}
	return b
}
