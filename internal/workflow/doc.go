// Package workflow implements a small durable orchestration engine.
//
// Orchestration code runs as a registered workflow function against a
// *Context. Every decision the function observes (activity results,
// timer fires, matched signals, the current time) is recorded as an
// event in a persisted, per-instance history keyed by a deterministic
// command counter. On restart the function is simply re-run: context
// calls whose command id is already in the history return the recorded
// result without side effects, and execution resumes for real at the
// first undecided command.
//
// The same code path therefore handles first execution and replay; there
// is no separate replay mode. Idempotency is structural: an activity that
// completed and was recorded is never re-invoked, while an activity that
// ran but crashed before its completion was recorded runs again
// (at-least-once; activities must be idempotent).
//
// Workflow functions must be deterministic: no wall-clock reads, no
// randomness, no map-order iteration affecting decisions. Context.Now
// provides a recorded, replay-stable clock value.
package workflow
