package monitor

// Noop is a Hook that discards every event. Used when a cache node is
// constructed without an explicit monitor (port.New's default).
type Noop struct{}

func (Noop) OnRead(string, uint64, uint32, uint32, uint32, int, bool, View, []byte)    {}
func (Noop) OnWrite(string, uint64, uint32, uint32, uint32, int, bool, View, []byte)   {}
func (Noop) OnInvalid(string, uint64, uint32, uint32, uint32, int, bool, View, []byte) {}
func (Noop) OnMagic(string, uint64, uint32, any)                                       {}
func (Noop) Start()                                                                   {}
func (Noop) Stop()                                                                    {}
func (Noop) Pause()                                                                    {}
func (Noop) Resume()                                                                   {}
func (Noop) Reset()                                                                    {}
