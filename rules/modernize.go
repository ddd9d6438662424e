//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// MinMaxBuiltin detects float round trips through math.Min/Max for integer
// values such as volume steps and gains.
//
//	gain := int(math.Min(float64(a), float64(b)))
//
// should be
//
//	gain := min(a, b)
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(`int(math.Min(float64($a), float64($b)))`).
		Report("use min($a, $b) instead of int(math.Min(float64(...)))").
		Suggest("min($a, $b)")

	m.Match(`int(math.Max(float64($a), float64($b)))`).
		Report("use max($a, $b) instead of int(math.Max(float64(...)))").
		Suggest("max($a, $b)")

	m.Match(`if $a < $b { $x = $a } else { $x = $b }`).
		Report("use $x = min($a, $b)").
		Suggest("$x = min($a, $b)")

	m.Match(`if $a > $b { $x = $a } else { $x = $b }`).
		Report("use $x = max($a, $b)").
		Suggest("$x = max($a, $b)")
}

// ClearBuiltin detects loop-based map clearing.
func ClearBuiltin(m dsl.Matcher) {
	m.Match(
		`for $k := range $m { delete($m, $k) }`,
		`for $k, _ := range $m { delete($m, $k) }`,
	).
		Report("use clear($m) instead of loop-based map clearing").
		Suggest("clear($m)")
}

// RangeOverInteger detects counting loops from 0 to n.
func RangeOverInteger(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $n; $i++ { $*body }`).
		Where(!m["n"].Text.Matches(`.*\.N$`)).
		Report("use for $i := range $n instead of for $i := 0; $i < $n; $i++").
		Suggest("for $i := range $n { $body }")
}

// AppendWithoutValues detects append calls with nothing to append.
func AppendWithoutValues(m dsl.Matcher) {
	m.Match(`append($s)`).
		Report("append with single argument has no effect; did you forget the values to append?")
}

// WaitGroupGo detects the Add/Done pattern that sync.WaitGroup.Go replaces.
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    drain()
//	}()
//
// should be
//
//	wg.Go(drain)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done pattern").
		Suggest("$wg.Go(func() { $body })")

	m.Match(`go func() { $*_; $wg.Done() }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of a trailing Done() call")
}

// DeferredTimeSince detects time.Since evaluated when the defer statement
// runs rather than at function exit.
func DeferredTimeSince(m dsl.Matcher) {
	m.Match(
		`defer $fn(time.Since($start))`,
		`defer $fn(time.Since($start), $*args)`,
		`defer $fn($arg, time.Since($start))`,
	).
		Report("time.Since($start) is evaluated at defer time, not function exit; wrap in func() to measure actual duration")

	m.Match(
		`defer $fn(time.Now())`,
		`defer $fn($*args, time.Now())`,
	).
		Report("time.Now() is evaluated at defer time, not function exit; wrap in func() if you want exit time")
}

// JoinHostPort detects host:port built with Sprintf, which breaks IPv6
// listen addresses and broker URLs.
func JoinHostPort(m dsl.Matcher) {
	m.Match(
		`fmt.Sprintf("%s:%d", $host, $port)`,
		`fmt.Sprintf("%v:%d", $host, $port)`,
	).
		Report("use net.JoinHostPort($host, strconv.Itoa($port)) instead of fmt.Sprintf for host:port (handles IPv6 correctly)")
}

// FilepathIsLocal detects hand-rolled traversal checks on user supplied
// names such as tone references.
func FilepathIsLocal(m dsl.Matcher) {
	m.Match(`strings.Contains($path, "..")`).
		Report("consider using filepath.IsLocal($path) for comprehensive path validation")
}

// ErrorBeforeUse detects a file handle used before its open error is checked.
func ErrorBeforeUse(m dsl.Matcher) {
	m.Match(
		`$f, $err := os.Open($path); $_ := $f.$method($*_); if $err != nil { $*_ }`,
		`$f, $err := os.OpenFile($*_); $_ := $f.$method($*_); if $err != nil { $*_ }`,
	).
		Report("potential nil pointer: $f may be nil if $err != nil; check error before using $f.$method()")
}
