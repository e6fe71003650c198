package node

import (
	"github.com/Voskan/coherentcache/coherence/index"
	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/policy"
	"github.com/Voskan/coherentcache/coherence/port"
)

// Dispatcher is the slice router of §4.10: a stateless fan-out between an
// outer port and several peer inner ports (LLC slices), selecting
// slices[hash(addr)] for every call and forwarding unchanged.
type Dispatcher struct {
	hasher index.SliceHash
	slices []port.Port
}

// NewDispatcher constructs a dispatcher over slices, routed by hasher.
// len(slices) must equal the slice count hasher was built for.
func NewDispatcher(hasher index.SliceHash, slices []port.Port) *Dispatcher {
	return &Dispatcher{hasher: hasher, slices: slices}
}

func (d *Dispatcher) route(addr uint64) port.Port {
	return d.slices[d.hasher.Slice(addr)]
}

func (d *Dispatcher) AcquireResp(cmd policy.Cmd, addr uint64) (*meta.Data, policy.Cmd) {
	return d.route(addr).AcquireResp(cmd, addr)
}

func (d *Dispatcher) WritebackResp(cmd policy.Cmd, addr uint64, data *meta.Data) {
	d.route(addr).WritebackResp(cmd, addr, data)
}

func (d *Dispatcher) ProbeResp(cmd policy.Cmd, addr uint64) (bool, bool, *meta.Data) {
	return d.route(addr).ProbeResp(cmd, addr)
}

func (d *Dispatcher) FinishResp(cmd policy.Cmd, addr uint64) {
	d.route(addr).FinishResp(cmd, addr)
}
