//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// coreStateMachines are the packages driven only by the event loop
const coreStateMachines = `.*/internal/(pipeline|anc|resource|syncproto)$`

// SchedulerClock flags wall clock and timer use inside the state machines.
// They must read time from and arm timers through the eventloop scheduler
// so that the manual scheduler can replay them deterministically.
func SchedulerClock(m dsl.Matcher) {
	m.Match(
		`time.Now()`,
		`time.Since($_)`,
		`time.Until($_)`,
		`time.Sleep($_)`,
		`time.After($_)`,
		`time.AfterFunc($*_)`,
		`time.NewTimer($_)`,
		`time.NewTicker($_)`,
		`time.Tick($_)`,
	).
		Where(m.File().PkgPath.Matches(coreStateMachines)).
		Report("state machines use the scheduler clock and timers, not package time")
}

// NoGoroutinesInStateMachines flags goroutines in the state machines, which
// run single-threaded on the event loop.
func NoGoroutinesInStateMachines(m dsl.Matcher) {
	m.Match(`go $f($*_)`, `go func($*_) { $*_ }($*_)`).
		Where(m.File().PkgPath.Matches(coreStateMachines)).
		Report("post an event to the loop instead of starting a goroutine")

	m.Match(`$mu.Lock()`, `$mu.RLock()`).
		Where(m.File().PkgPath.Matches(coreStateMachines) &&
			(m["mu"].Type.Is("sync.Mutex") || m["mu"].Type.Is("*sync.Mutex") ||
				m["mu"].Type.Is("sync.RWMutex") || m["mu"].Type.Is("*sync.RWMutex"))).
		Report("state machines are confined to the loop goroutine and need no locks")
}

// StructuredErrors flags fmt.Errorf and stdlib errors.New in the control
// core, which report through the internal errors builder so that category
// and component reach telemetry.
func StructuredErrors(m dsl.Matcher) {
	m.Import("errors")

	m.Match(`fmt.Errorf($*_)`).
		Where(m.File().PkgPath.Matches(`.*/internal/(pipeline|anc|resource|syncproto|controller|graph|persist|tones)$`)).
		Report("use errors.Newf(...).Component(...).Category(...).Build()")

	m.Match(`errors.New($msg)`).
		Where(m.File().PkgPath.Matches(`.*/internal/(pipeline|anc|resource|syncproto|controller)$`) &&
			m.File().Imports("errors")).
		Report("use the internal errors package so the error carries a category")
}

// StructuredLogging flags printing from library packages.
func StructuredLogging(m dsl.Matcher) {
	m.Match(
		`fmt.Print($*_)`,
		`fmt.Printf($*_)`,
		`fmt.Println($*_)`,
		`log.Print($*_)`,
		`log.Printf($*_)`,
		`log.Println($*_)`,
	).
		Where(m.File().PkgPath.Matches(`.*/internal/.*`)).
		Report("log through logger.Logger with fields")
}
