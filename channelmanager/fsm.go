package channelmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/lightninglabs/htlcengine/chainntnfs"
	"github.com/lightninglabs/htlcengine/funding"
	"github.com/lightninglabs/htlcengine/lnwallet"
	"github.com/lightninglabs/htlcengine/lnwire"
)

// livenessCheckInterval is how often the FSM reevaluates outstanding
// HTLCs against the current chain tip for an approaching expiry.
const livenessCheckInterval = 10 * time.Second

// ChannelFSM is the single actor driving one channel's lifecycle, per
// SPEC_FULL.md §5-7: every peer message, local command, chain event, and
// timer tick for this channel funnels through its inbound queue and is
// processed to completion, one at a time, by step.
type ChannelFSM struct {
	chanID lnwire.ChannelID

	lc *lnwallet.LightningChannel

	notifier chainntnfs.ChainNotifier

	inbound *queue.ConcurrentQueue
	clock   clock.Clock
	ticker  ticker.Ticker

	mu    sync.Mutex
	state State
	data  interface{}

	currentHeight int32
	blockEpoch    *chainntnfs.BlockEpochEvent
	lastReconnect time.Time

	outbound chan lnwire.Message

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewChannelFSM constructs a ChannelFSM in the Normal state for an
// already-open channel. Callers driving a fresh channel open should use
// NewOpeningChannelFSM instead.
func NewChannelFSM(lc *lnwallet.LightningChannel,
	notifier chainntnfs.ChainNotifier, clk clock.Clock) *ChannelFSM {

	return &ChannelFSM{
		chanID:   lnwire.NewChanIDFromOutPoint(&lc.State().FundingOutpoint),
		lc:       lc,
		notifier: notifier,
		inbound:  queue.NewConcurrentQueue(50),
		clock:    clk,
		ticker:   ticker.New(livenessCheckInterval),
		state:    Normal,
		data:     &NormalStateData{Splice: lc.State().SubState},
		outbound: make(chan lnwire.Message, 10),
		quit:     make(chan struct{}),
	}
}

// NewOpeningChannelFSM constructs a ChannelFSM for a channel that has not
// yet reached its first confirmation, starting in the Opening state with
// the interactive-tx session that is negotiating its funding transaction.
func NewOpeningChannelFSM(chanID lnwire.ChannelID, sess *funding.Session,
	notifier chainntnfs.ChainNotifier, clk clock.Clock) *ChannelFSM {

	return &ChannelFSM{
		chanID:   chanID,
		notifier: notifier,
		inbound:  queue.NewConcurrentQueue(50),
		clock:    clk,
		ticker:   ticker.New(livenessCheckInterval),
		state:    Opening,
		data:     &OpeningStateData{Session: sess},
		outbound: make(chan lnwire.Message, 10),
		quit:     make(chan struct{}),
	}
}

// Outbound returns the channel on which the FSM publishes wire messages
// it wants sent to the peer — commit_sig retransmissions, warnings, and
// the like.
func (f *ChannelFSM) Outbound() <-chan lnwire.Message {
	return f.outbound
}

// Start launches the actor's run loop and its liveness ticker.
func (f *ChannelFSM) Start() error {
	f.inbound.Start()
	f.ticker.Resume()

	epoch, err := f.notifier.RegisterBlockEpochNtfn()
	if err != nil {
		return err
	}
	f.blockEpoch = epoch

	f.wg.Add(1)
	go f.run()
	return nil
}

// Stop drains and tears down the actor.
func (f *ChannelFSM) Stop() {
	close(f.quit)
	f.wg.Wait()
	f.ticker.Stop()
	f.inbound.Stop()
}

// SendEvent enqueues an event for processing; it never blocks for long,
// matching the queue's own buffering contract.
func (f *ChannelFSM) SendEvent(ev Event) {
	f.inbound.ChanIn() <- ev
}

func (f *ChannelFSM) run() {
	defer f.wg.Done()

	for {
		select {
		case item := <-f.inbound.ChanOut():
			ev := item.(Event)
			f.mu.Lock()
			if err := f.step(ev); err != nil {
				log.Warnf("channel %v: %v", f.chanID, err)
			}
			f.mu.Unlock()

		case t := <-f.ticker.Ticks():
			f.mu.Lock()
			if err := f.checkLiveness(t); err != nil {
				log.Warnf("channel %v: liveness check: %v", f.chanID, err)
			}
			f.mu.Unlock()

		case epoch := <-f.blockEpoch.Epochs:
			f.onBlockEpoch(epoch.Height)

		case <-f.quit:
			return
		}
	}
}

// step is the FSM's total transition function: (state, event) -> new
// state, plus whatever messages, persistence calls, or publishes the
// transition implies. It never panics on an unexpected (state, event)
// pair — an event that doesn't apply to the current state is either
// queued implicitly by virtue of the peer retrying, or surfaced as a
// KindTransientRemote error for the caller to warn-and-disconnect on.
func (f *ChannelFSM) step(ev Event) error {
	switch ev.Kind {
	case EventDisconnect:
		f.state = Offline
		return nil

	case EventReconnect:
		f.state = Normal
		f.normalData().Resyncing = true
		f.lastReconnect = f.clock.Now()
		return nil

	case EventPeerMessage:
		return f.handlePeerMessage(ev.Msg)

	case EventLocalCommand:
		return f.handleLocalCommand(ev.Command)

	case EventChainConfirmation:
		return f.handleChainConfirmation(ev.TxID, ev.Confs)

	case EventChainSpend:
		return f.handleChainSpend(ev.SpendingTx)

	default:
		return nil
	}
}

func (f *ChannelFSM) handlePeerMessage(msg lnwire.Message) error {
	switch m := msg.(type) {
	case *lnwire.ChannelReestablish:
		return f.processChannelReestablish(m)

	case *lnwire.Stfu:
		return f.handleRemoteStfu(m)

	case *lnwire.UpdateAddHTLC:
		if f.quiescent() {
			return newError(KindProtocolViolation,
				"update_add_htlc received while quiescent")
		}
		_, err := f.lc.ReceiveHTLC(m)
		if err != nil {
			return newError(KindProtocolViolation, "%v", err)
		}
		return nil

	case *lnwire.CommitSig:
		if err := f.lc.ReceiveNewCommitment(m); err != nil {
			return newError(KindProtocolViolation, "%v", err)
		}
		return nil

	case *lnwire.RevokeAndAck:
		if err := f.lc.ReceiveRevocation(m); err != nil {
			return newError(KindProtocolViolation, "%v", err)
		}
		return nil

	case *lnwire.Warning:
		log.Warnf("channel %v: received warning: %s", f.chanID, m.Data)
		return nil

	case *lnwire.Error:
		f.state = ForceClosing
		return f.forceClose()

	default:
		return nil
	}
}

func (f *ChannelFSM) handleLocalCommand(cmd LocalCommand) error {
	switch c := cmd.(type) {
	case *CmdAddHTLC:
		err := f.addHTLC(c.HTLC)
		if c.Done != nil {
			c.Done <- err
		}
		return err

	case *CmdSettleHTLC:
		err := f.lc.SettleHTLC(c.Preimage, c.Index)
		if c.Done != nil {
			c.Done <- err
		}
		return err

	case *CmdFailHTLC:
		err := f.lc.FailHTLC(c.Index, c.Reason)
		if c.Done != nil {
			c.Done <- err
		}
		return err

	case *CmdSign:
		_, err := f.lc.SignNextCommitment()
		if c.Done != nil {
			c.Done <- err
		}
		return err

	case *CmdInitiateSplice:
		err := f.beginSplice(c.DeltaAmount, c.FeeRate)
		if c.Done != nil {
			c.Done <- err
		}
		return err

	case *CmdInitiateRBF:
		err := f.beginRBF(c.FeeRate)
		if c.Done != nil {
			c.Done <- err
		}
		return err

	case *CmdShutdown:
		f.state = Shutdown
		if c.Done != nil {
			c.Done <- nil
		}
		return nil

	case *CmdForceClose:
		f.state = ForceClosing
		err := f.forceClose()
		if c.Done != nil {
			c.Done <- err
		}
		return err

	default:
		return fmt.Errorf("channelmanager: unknown local command %T", cmd)
	}
}

// addHTLC rejects the command outright while the channel is quiescent,
// per the stfu-forbids-update_add_htlc rule.
func (f *ChannelFSM) addHTLC(htlc *lnwire.UpdateAddHTLC) error {
	if f.quiescent() {
		return newError(KindProtocolViolation,
			"update_add_htlc forbidden while quiescent")
	}
	_, err := f.lc.AddHTLC(htlc)
	return err
}

func (f *ChannelFSM) handleChainConfirmation(txid chainhash.Hash, confs uint32) error {
	if f.state == AwaitingFundingConfirmation {
		f.state = AwaitingChannelReady
	}
	return nil
}

func (f *ChannelFSM) handleChainSpend(spendingTx *chainhash.Hash) error {
	// A spend of the funding output while we still believe the channel
	// open means either a cooperative close completed or the remote
	// party force-closed; either way there is nothing further for this
	// actor to drive.
	f.state = Closed
	return nil
}

func (f *ChannelFSM) forceClose() error {
	summary, err := f.lc.ForceClose()
	if err != nil {
		return newFatalError("channel %v: could not build a force-close "+
			"summary from the local commitment: %v", f.chanID, err)
	}
	f.data = &ForceClosingStateData{Summary: summary}
	return nil
}

func (f *ChannelFSM) normalData() *NormalStateData {
	nd, ok := f.data.(*NormalStateData)
	if !ok {
		nd = &NormalStateData{}
		f.data = nd
	}
	return nd
}

func (f *ChannelFSM) quiescent() bool {
	if f.state != Normal {
		return false
	}
	nd := f.normalData()
	return nd.Quiescent || nd.Resyncing
}
