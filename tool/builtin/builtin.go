// Package builtin provides the default capabilities installed into a
// tool.Registry: calculator, get_current_time, unit_converter and web_search.
package builtin

import (
	"time"

	"github.com/hupe1980/lumen/tool"
)

// Options configures the built-in tools.
type Options struct {
	// Clock returns the current time for get_current_time.
	Clock func() time.Time
	// Location is used when rendering local date and time formats.
	Location *time.Location
	// Searcher backs web_search. Defaults to a MockSearcher.
	Searcher Searcher
}

// Register installs all built-in tools into reg.
func Register(reg *tool.Registry, optFns ...func(o *Options)) {
	opts := Options{
		Clock:    time.Now,
		Location: time.Local,
		Searcher: NewMockSearcher(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	reg.Register(NewCalculator())
	reg.Register(NewCurrentTime(opts.Clock, opts.Location))
	reg.Register(NewUnitConverter())
	reg.Register(NewWebSearch(opts.Searcher))
}
