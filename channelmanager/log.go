package channelmanager

import "github.com/btcsuite/btclog"

// log is this package's subsystem logger, silent until the caller wires
// one in with UseLogger — the same hook the teacher's own subsystems
// (and its own rpcclient.UseLogger(btclog.Disabled) call in lnd_test.go)
// use instead of talking to a concrete logging backend directly.
var log btclog.Logger = btclog.Disabled

// UseLogger sets this package's subsystem logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}
