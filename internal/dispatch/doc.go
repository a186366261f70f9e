// Package dispatch runs one operation against one managed host.
//
// For each request the dispatcher:
//   - builds the base record through the base hook
//   - probes the host when the decision depends on runtime presence
//   - asks the selector for the primary or alternate variant
//   - ensures the alternate inventory's bridge package, stopping on failure
//   - forces the alternate transport around the alternate transfer
//   - invokes exactly one variant and merges its record over the base
//
// Failures never cross the Run boundary as Go errors. They are reported in the
// returned record as failed/msg. Each outcome is appended to the dispatch
// history and announced on the event hub when those are configured.
package dispatch
