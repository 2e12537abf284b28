// Package mainloop implements a cooperative main-context scheduler: a
// reference counted MainContext owns event sources (timeouts, idle
// callbacks, file descriptor watches and custom sources) and dispatches them
// when they become ready, either one step at a time via
// [MainContext.Iteration], or until told to stop via [MainLoop].
//
// # Sources
//
// A [Source] is created by [NewSource] (custom readiness via [SourceFuncs]),
// [NewTimeoutSource], [NewIdleSource] or [NewIOWatch], given a callback with
// [Source.SetCallback], and attached to a context. Each attached source gets
// a [SourceID], unique for the lifetime of its context. A callback returning
// [Continue] keeps its source; [Remove] destroys it. The optional
// [DestroyNotify] runs exactly once per source, whichever way it is
// destroyed.
//
// Ready sources dispatch in ascending priority order, ties broken by id.
//
// # Ownership
//
// At most one goroutine iterates a context at a time. A blocking Iteration
// and MainLoop.Run acquire the context for the calling goroutine, waiting if
// another goroutine holds it; a non-blocking Iteration returns false instead. Sources may be attached and removed from any
// goroutine; doing so wakes a blocked iteration.
//
// # Thread defaults
//
// Each goroutine has a stack of contexts, manipulated with
// [MainContext.PushThreadDefault] and [MainContext.PopThreadDefault].
// [CurrentContext] returns the top of the calling goroutine's stack, or the
// process-wide [DefaultContext].
//
// # Usage errors
//
// Lifetime violations (releasing a context too often, popping out of order,
// operating on a destroyed context) are programming errors: they are logged
// and raised as a panic with a *[UsageError].
//
// Example:
//
//	c, _ := mainloop.NewContext()
//	defer c.Release()
//	loop := mainloop.NewMainLoop(c)
//	defer loop.Close()
//
//	n := 10
//	c.AddTimeout(10, func(any) mainloop.ControlFlow {
//		n--
//		if n == 0 {
//			loop.Quit()
//			return mainloop.Remove
//		}
//		return mainloop.Continue
//	}, nil)
//
//	loop.Run()
package mainloop
