// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cronexpr parses standard 5-field cron expressions and
// computes the next matching time. The daemon uses it to schedule its
// maintenance sweeps: releasing expired reservations, flagging
// inactive agents, and repacking archive repositories.
//
//	schedule, err := cronexpr.Parse("*/5 * * * *")
//	if err != nil {
//	    return err
//	}
//	next, err := schedule.Next(clock.Now())
//
// The five fields are minute (0-59), hour (0-23), day of month (1-31),
// month (1-12), and day of week (0-7, where both 0 and 7 mean Sunday).
// Each field accepts wildcards (*), values (5), ranges (1-5), lists
// (1,3,5), and steps (*/15, 10-30/5). Following vixie cron, when both
// the day-of-month and day-of-week fields are restricted (neither is a
// wildcard), a day matches if EITHER field matches.
//
// All computation is in UTC. There is no scheduler here — callers
// combine Next with [lib/clock] timers, which keeps sweep timing
// testable with a fake clock.
package cronexpr
