package thread

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// DiagnosticKind categorises protocol and user-code problems. None of them
// stop the scheduler.
type DiagnosticKind string

const (
	// DiagUserFault: the computation panicked.
	DiagUserFault DiagnosticKind = "user_fault"

	// DiagYieldOutsideResource: the computation suspended somewhere other
	// than a sanctioned resource wait.
	DiagYieldOutsideResource DiagnosticKind = "yield_outside_resource"

	// DiagResumeOutsideResource: the computation was resumed when no
	// sanctioned resumption was pending.
	DiagResumeOutsideResource DiagnosticKind = "resume_outside_resource"

	// DiagUnsanctionedResourceCall: a resource wait ran after side effects
	// with no re-entry guarantee.
	DiagUnsanctionedResourceCall DiagnosticKind = "unsanctioned_resource_call"

	// DiagNotInThread: an in-computation operation was called from outside
	// any tracked computation.
	DiagNotInThread DiagnosticKind = "not_in_thread"

	// DiagMultipleReturns: the behavior handed back more than one value.
	DiagMultipleReturns DiagnosticKind = "multiple_returns"

	// DiagCleanupPanic: a cleanup panicked; remaining cleanups still ran.
	DiagCleanupPanic DiagnosticKind = "cleanup_panic"
)

// Diagnostic is a non-fatal report about one computation.
type Diagnostic struct {
	Kind      DiagnosticKind
	Thread    ID
	Traceback string
	Message   string
	Err       error
}

// String renders the diagnostic on one line, traceback excluded.
func (d Diagnostic) String() string {
	if d.Err != nil {
		return fmt.Sprintf("%s (thread %d): %s: %v", d.Kind, d.Thread, d.Message, d.Err)
	}
	return fmt.Sprintf("%s (thread %d): %s", d.Kind, d.Thread, d.Message)
}

// report logs the diagnostic and forwards it to the registry sink.
func (r *Registry) report(d Diagnostic) {
	level := slog.LevelWarn
	if d.Kind == DiagUserFault || d.Kind == DiagCleanupPanic {
		level = slog.LevelError
	}
	attrs := []any{
		"kind", string(d.Kind),
		"thread", uint64(d.Thread),
	}
	if d.Err != nil {
		attrs = append(attrs, "error", d.Err)
	}
	if d.Traceback != "" {
		attrs = append(attrs, "traceback", d.Traceback)
	}
	r.logger.Log(context.Background(), level, d.Message, attrs...)
	if r.onDiagnostic != nil {
		r.onDiagnostic(d)
	}
}

// Traceback returns a short, human-readable call-site reference starting at
// the function that invokes it, skipping skip extra frames.
//
// The result is "func (file:line)" frames joined by " <- ", innermost first.
func Traceback(skip int) string {
	pcs := make([]uintptr, 8)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var parts []string
	for {
		f, more := frames.Next()
		if f.Function != "" && !strings.HasPrefix(f.Function, "runtime.") {
			parts = append(parts, fmt.Sprintf("%s (%s:%d)", shortFunc(f.Function), shortFile(f.File), f.Line))
		}
		if !more || len(parts) == 4 {
			break
		}
	}
	return strings.Join(parts, " <- ")
}

func shortFunc(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func shortFile(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path
	}
	if j := strings.LastIndex(path[:i], "/"); j >= 0 {
		return path[j+1:]
	}
	return path[i+1:]
}
