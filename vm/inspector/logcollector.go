package inspector

import (
	vmtypes "github.com/annchain/forge/vm/types"
)

// LogCollector gathers the events a call emitted, console-log family
// included; decoding them is the trace layer's job. The engine records every
// log here at emission time, so the logs of a reverting frame stay on the
// call report even though the overlay drops its own revert-scoped copies.
type LogCollector struct {
	NopInspector
	logs []*vmtypes.Log
}

func NewLogCollector() *LogCollector {
	return &LogCollector{}
}

// Record stores one emitted log.
func (c *LogCollector) Record(l *vmtypes.Log) {
	c.logs = append(c.logs, l)
}

// Logs drains the collected logs in emission order.
func (c *LogCollector) Logs() []*vmtypes.Log {
	out := c.logs
	c.logs = nil
	return out
}
