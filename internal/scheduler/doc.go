// Package scheduler запускает workflow по расписаниям.
//
// Каждый тик лидер выбирает расписания с истекшим next_due_at, формирует
// payload через Poll узла-триггера и ставит выполнение в очередь через
// trigger.Service. Лидер выбирается через pg_try_advisory_lock (AdvisoryLock).
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: stores.Schedules,
//	    Workflows: stores.Workflows,
//	    Enqueuer:  triggers,
//	    Elector:   scheduler.NewAdvisoryLock(pool, scheduler.LockKey),
//	})
//	sched.Start(ctx)
//	defer sched.Stop()
package scheduler
