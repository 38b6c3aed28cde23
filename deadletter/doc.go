// Package deadletter provides the recovery workflow for mutations that
// have exhausted their retry budget. It supports inspection, bulk
// recovery, export, and purging.
//
// A mutation enters the dead-letter set when the sync engine moves it to
// mutation.StateDead after MaxRetries failed attempts. This package never
// makes that decision; it observes the set and issues commands against it.
//
// # Lifecycle
//
// As seen from this package, a mutation moves through three states:
//
//	active ──(engine: retries exhausted)──► dead ──(RecoverAll)──► active
//
// RecoverAll is the only transition this package triggers. Whether a
// recovered mutation syncs or dead-letters again is decided by the next
// sync pass, and removal from the set happens only as a side effect of a
// later successful sync. There is no direct delete; PurgeDeadLetters
// exists for retention housekeeping, not for the recovery flow.
//
// # Service
//
// [Service] wraps the dead-letter store with the three user-triggerable
// operations:
//
//	svc := deadletter.NewService(store,
//	    deadletter.WithSyncTrigger(pool),
//	    deadletter.WithExporter(exporter),
//	)
//
//	items := svc.Load(ctx)              // fail-soft, never errors
//	res, err := svc.RecoverAll(ctx)     // atomic bulk recover + sync trigger
//	file, err := svc.Export(ctx)        // fresh file per call, then share
//
// Load degrades to the last good (possibly stale) view on store failure.
// RecoverAll and Export surface failures to the caller and guard against
// re-entry with per-command in-flight flags.
//
// # Admin API
//
// The dead-letter set is exposed via the HTTP admin API:
//   - GET  /v1/deadletters          — list the set
//   - POST /v1/deadletters/recover  — bulk recovery
//   - POST /v1/deadletters/export   — export and share
package deadletter
