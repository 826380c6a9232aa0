//go:build ruleguard

// Package gorules holds ruleguard checks run by golangci-lint.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine pattern that wg.Go replaces.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of Add/Done").
		Suggest("$wg.Go(func() { $body })")

	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of deferring $wg.Done()")

	m.Match(`$wg.Add($n)`).
		Where(m["wg"].Type.Is("sync.WaitGroup") && m["n"].Const && m["n"].Value.Int() > 1).
		Report("call $wg.Go once per goroutine instead of Add($n)")
}

// TimerChannelLen flags len/cap on timer channels, which are unbuffered
// since Go 1.23 and always report zero.
func TimerChannelLen(m dsl.Matcher) {
	m.Match(`len($t.C)`, `cap($t.C)`).
		Where(m["t"].Type.Is("*time.Timer") || m["t"].Type.Is("*time.Ticker")).
		Report("timer channels are unbuffered; len/cap of $t.C is always 0")
}

// DeferredTimeSince catches latency measurements evaluated at defer time.
func DeferredTimeSince(m dsl.Matcher) {
	m.Match(`defer $f(time.Since($start))`, `defer $f($*_, time.Since($start), $*_)`).
		Report("time.Since($start) is evaluated when the defer is registered; wrap it in a closure")
}
