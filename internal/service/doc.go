// Package service runs one mutation analysis end to end.
//
// Overview
// Run wires the parts together: the Scheduler owns the backlog of mutation
// units, the Pool tracks which minion runs which command, the Factory
// starts minion processes and the control server is the only way minions
// talk back. A gocron job sweeps the pool for crashed or hung minions.
//
// Data flow:
//
//	Factory            minion{name}            control.Server        Pool        Scheduler
//	   | start ------------>|                        |                 |              |
//	   | invite ------------------------------------------------------>|              |
//	   |                    | hello ---------------->| Join ---------->|              |
//	   |                    | pull ----------------->| Next ---------->| Next ------->|
//	   |                    |<------- command -------|<----------------|<-------------|
//	   |                    | report --------------->| Report -------->| Done ------->| Result -> listeners
//	   |                    |                        |                 |              |
//	reaper (every interval): ReapZombies -> Done(TIMED_OUT|UNEXPECTED_ERROR), kill, replace
//
// Invariants:
//   - Every unit produces exactly one Result.
//   - A minion name is never reused, a replacement gets a fresh one.
//   - A unit held by a lost minion is resolved, never requeued.
//   - Only protocol errors and pool exhaustion end a run early.
//
// Run returns nil once every unit is resolved.
package service
