package node

import (
	"github.com/Voskan/coherentcache/coherence/meta"
	"github.com/Voskan/coherentcache/coherence/port"
)

// Connect wires each child as parent's inner child at a stable id (its
// position in the call order), and parent as each child's outer neighbor.
// Logs and panics with a *ConfigError if the child count would exceed
// meta.MaxSharers (§7 "structural misconfiguration"), since the directory
// sharer bitmap has no slot beyond that id.
func Connect(parent *Cache, children ...*Cache) {
	if len(children) > meta.MaxSharers {
		err := &ConfigError{Node: parent.name, Reason: "child count exceeds the 63-sharer directory limit"}
		parent.log.Sugar().Errorf("coherence: %v", err)
		panic(err)
	}
	ports := make([]port.Port, len(children))
	names := make([]string, len(children))
	for i, ch := range children {
		ports[i] = ch
		names[i] = ch.name
		ch.eng.SetOuter(parent)
		ch.outer = parent
	}
	parent.eng.SetChildren(ports)
	parent.children = ports
	parent.childNames = names
}

// ConnectMemory wires leaf as the terminal memory backend for every cache
// passed that currently has no outer neighbor (typically the LLC level(s)).
func ConnectMemory(leaf port.Port, caches ...*Cache) {
	for _, c := range caches {
		c.eng.SetOuter(leaf)
		c.outer = leaf
	}
}
