package channeldb

import "fmt"

var (
	ErrNoChanDBExists = fmt.Errorf("channel db has not yet been created")

	ErrNoActiveChannels = fmt.Errorf("no active channels exist")
	ErrChannelNoExist   = fmt.Errorf("this channel does not exist")
	ErrNoPastDeltas     = fmt.Errorf("channel has no recorded deltas")
	ErrNoRestoredChannelMutation = fmt.Errorf("cannot mutate restored channel")

	ErrNoCommitmentsFound = fmt.Errorf("no commitments found")
	ErrNoSecretChain      = fmt.Errorf("no secret chain found for channel")

	ErrMetaNotFound = fmt.Errorf("unable to locate meta information")
)
