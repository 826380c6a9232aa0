package engine

import (
	"testing"

	"go.uber.org/goleak"
)

// go-cache starts a janitor per cache that has no stop method.
var ignoreCacheJanitor = goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, ignoreCacheJanitor)
}
