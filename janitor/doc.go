// Package janitor runs scheduled maintenance tasks for the sync agent:
// purging old synced mutations, expiring stale dead letters, and firing
// scheduled sync passes.
//
// Tasks run in-process on a tick loop. Each [Task] carries a cron
// expression (standard 5-field or a descriptor like "@every 1h") and a
// Run function; the janitor evaluates due tasks on every tick and
// reschedules them from their expression.
//
// # Registering Tasks
//
//	j := janitor.New(logger)
//	j.Register(janitor.PurgeSynced(store, 24*time.Hour))
//	j.Register(janitor.PurgeDeadLetters(store, 30*24*time.Hour))
//	j.Start(ctx)
//
// Task failures are logged and do not unschedule the task; the next due
// time is always computed from the schedule.
package janitor
