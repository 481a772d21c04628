// Package incident is the business boundary for Warden's human-in-the-loop
// workflow. It defines the lifecycle state machine, the Manager that owns the
// incident registry and approval event log, and the Store and Notifier
// interfaces the Manager depends on.
//
// Every status change goes through a single transition primitive which checks
// the edge against the transition table and produces exactly one Event. An
// incident can only reach executed via approved, and approved is only
// reachable from needs_human_review.
package incident
