//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// StdlibErrorConstructors keeps error construction on the categorized
// builder so the API layer can map categories to status codes.
func StdlibErrorConstructors(m dsl.Matcher) {
	m.Import("errors")

	m.Match(`errors.New($msg)`).
		Where(m["msg"].Type.Is("string") &&
			m.File().Imports("errors") &&
			!m.File().PkgPath.Matches(`/internal/errors$`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("use errors.Newf($msg).Category(...).Build() from internal/errors")
}

// StdlibLogger flags the standard log package outside main.
func StdlibLogger(m dsl.Matcher) {
	m.Import("log")

	m.Match(`log.$_($*_)`).
		Where(m.File().Imports("log") && m.File().PkgPath.Matches(`/internal/`)).
		Report("log through internal/logger with structured fields")
}

// FusionClock keeps the fusion and alert packages deterministic; time is
// always passed in by the caller.
func FusionClock(m dsl.Matcher) {
	m.Match(`time.Now()`).
		Where(m.File().PkgPath.Matches(`/internal/(fusion|alert)$`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("take the evaluation time as a parameter instead of calling time.Now")
}
