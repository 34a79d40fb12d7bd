// Package runner drives the repeated execution of one command.
//
// A [Runner] executes the session's command N times, strictly one after the
// other, with a fixed pause between runs. Each run gets its own log artifact
// from a [LogStore]; the exit status is folded into a metrics collector and
// reported through a [RunReporter] as soon as the run finishes.
//
// # Executors
//
// The [Executor] interface abstracts starting the command:
//
//	type Executor interface {
//		Execute(ctx context.Context, inv Invocation) (session.RunResult, error)
//	}
//
// [CommandRunner] is the os/exec implementation. A command that exits
// nonzero is a failed run, never an error; errors are reserved for harness
// problems such as a missing executable ([ErrSpawn]).
//
// # Cancellation
//
// Cancelling the context stops the loop at the next iteration boundary or
// during the inter-run delay. A run that is in flight receives SIGINT in its
// whole process group and is killed after the kill grace period. Such a run
// is not counted; its partial log is kept under an ".interrupted" name.
//
// # Middleware
//
// Executors can be wrapped:
//   - [WithLogging]: debug log line per invocation
//   - [WithTracing]: one span per run, optional TRACEPARENT for the command
package runner
