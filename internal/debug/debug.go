// Package debug implements protocol tracing. It is controlled by the
// WLCOMP_DEBUG environment variable, falling back to WAYLAND_DEBUG. A
// level of 1 logs every request and event. A level of 2 also dumps
// objects passed to Dump.
package debug

import (
	"log"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
)

var (
	level int
	debug = func(string, ...any) {}
)

func init() {
	v, ok := os.LookupEnv("WLCOMP_DEBUG")
	if !ok {
		v = os.Getenv("WAYLAND_DEBUG")
	}
	SetLevel(parseLevel(v))
}

func parseLevel(v string) int {
	n, err := strconv.ParseInt(v, 10, 0)
	if err != nil || n < 0 {
		return 0
	}
	return int(n)
}

// SetLevel overrides the level read from the environment.
func SetLevel(l int) {
	level = l
	if level > 0 {
		debug = func(str string, args ...any) { log.Printf(str, args...) }
		return
	}
	debug = func(string, ...any) {}
}

func Enabled() bool {
	return level > 0
}

func Printf(str string, args ...any) {
	debug(str, args...)
}

var config = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	MaxDepth:                4,
}

// Dump logs a deep dump of v at level 2 and above.
func Dump(label string, v any) {
	if level < 2 {
		return
	}
	log.Printf("%v: %v", label, config.Sdump(v))
}
