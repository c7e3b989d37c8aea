package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// Log is one event emitted during execution. The console-log family is
// collected like any other event; decoding it is the trace layer's job.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

func (l *Log) Copy() *Log {
	d := &Log{Address: l.Address}
	d.Topics = append(d.Topics, l.Topics...)
	d.Data = append(d.Data, l.Data...)
	return d
}
