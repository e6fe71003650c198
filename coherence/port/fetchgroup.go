package port

import (
	"golang.org/x/sync/singleflight"

	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/policy"
)

// FetchGroup coalesces concurrent outer-fetch misses on the same address
// (§4.5 step 3c): several requesters racing a miss on one line share a
// single upstream AcquireResp call instead of issuing one each. Adapted from
// this module's original outer-loader coalescing, which used the same
// singleflight.Group shape to deduplicate concurrent backing-store loads.
type FetchGroup struct {
	g singleflight.Group
}

type fetchResult struct {
	data *meta.Data
	cmd  policy.Cmd
}

// Fetch runs fn at most once per concurrently-overlapping key and fans the
// single result out to every caller waiting on that key.
func (f *FetchGroup) Fetch(key string, fn func() (*meta.Data, policy.Cmd)) (*meta.Data, policy.Cmd) {
	v, _, _ := f.g.Do(key, func() (interface{}, error) {
		d, c := fn()
		return fetchResult{data: d, cmd: c}, nil
	})
	r := v.(fetchResult)
	return r.data, r.cmd
}
