package network

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"chestnet.ai/internal/protocol"
)

type subscriber struct {
	out    chan []byte
	deltas bool
	resync bool // a delta was dropped; the next send must be a full CONTENTS
}

type subscribeReq struct {
	ID     string
	Out    chan []byte
	Deltas bool
	Resp   chan Subscription
}

// Subscription carries what a new session is sent before its first tick of deltas.
type Subscription struct {
	Welcome  protocol.WelcomeMsg
	Contents protocol.ContentsMsg
}

var errClosed = errors.New("network loop not running")

// Subscribe registers out to receive DELTA messages (or full CONTENTS when deltas is false)
// every tick the network contents change.
func (n *Network) Subscribe(ctx context.Context, id string, out chan []byte, deltas bool) (Subscription, error) {
	resp := make(chan Subscription, 1)
	select {
	case n.subscribe <- subscribeReq{ID: id, Out: out, Deltas: deltas, Resp: resp}:
	case <-n.done:
		return Subscription{}, errClosed
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-n.done:
		return Subscription{}, errClosed
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	}
}

func (n *Network) Unsubscribe(id string) {
	select {
	case n.unsubscribe <- id:
	case <-n.done:
	}
}

func (n *Network) handleSubscribe(req subscribeReq) {
	now := n.tick.Load()
	if req.Out != nil {
		n.subs[req.ID] = &subscriber{out: req.Out, deltas: req.Deltas}
	}
	digest := ""
	if n.items != nil {
		digest = n.items.DefsDigest
	}
	sub := Subscription{
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       req.ID,
			NetworkID:       n.cfg.ID,
			Tick:            now,
			TickRateHz:      n.cfg.TickRateHz,
			ItemsDigest:     digest,
		},
		Contents: n.contentsMsg(now),
	}
	if req.Resp != nil {
		req.Resp <- sub
	}
}

func (n *Network) contentsMsg(now uint64) protocol.ContentsMsg {
	return protocol.ContentsMsg{
		Type:            protocol.TypeContents,
		ProtocolVersion: protocol.Version,
		Tick:            now,
		Items:           n.Contents().Items(),
		Probes:          n.Probes(),
	}
}

// broadcast drains the pending deltas and pushes them to every subscriber. A subscriber whose
// queue is full misses the delta and gets a full CONTENTS once it has room again.
func (n *Network) broadcast(now uint64) {
	deltas := n.agg.ConsumeDeltas()
	if len(n.subs) == 0 {
		return
	}

	var deltaMsg []byte
	if len(deltas) > 0 {
		b, err := json.Marshal(protocol.DeltaMsg{
			Type:            protocol.TypeDelta,
			ProtocolVersion: protocol.Version,
			Tick:            now,
			Changes:         sortedChanges(deltas),
		})
		if err == nil {
			deltaMsg = b
		}
	}
	var contents []byte
	full := func() []byte {
		if contents == nil {
			contents, _ = json.Marshal(n.contentsMsg(now))
		}
		return contents
	}

	ids := make([]string, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := n.subs[id]
		switch {
		case s.resync:
			if trySend(s.out, full()) {
				s.resync = false
			}
		case deltaMsg == nil:
		case s.deltas:
			if !trySend(s.out, deltaMsg) {
				s.resync = true
			}
		default:
			sendLatest(s.out, full())
		}
	}
}

func sortedChanges(deltas map[string]int) []protocol.ItemStack {
	out := make([]protocol.ItemStack, 0, len(deltas))
	for item, n := range deltas {
		if n < 0 {
			n = 0
		}
		out = append(out, protocol.ItemStack{Item: item, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

// sendLatest replaces the oldest queued message when ch is full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
