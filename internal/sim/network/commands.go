package network

import (
	"context"
	"encoding/json"
	"fmt"

	"chestnet.ai/internal/protocol"
	"chestnet.ai/internal/sim/kernel/model"
)

// Command is one ACT received from a session. The result is delivered to Resp when set,
// otherwise marshaled onto Out.
type Command struct {
	Session string
	Act     protocol.ActMsg
	Out     chan []byte
	Resp    chan protocol.ActResultMsg
}

// Enqueue hands cmd to the loop without blocking. It reports false when the inbox is full.
func (n *Network) Enqueue(cmd Command) bool {
	select {
	case n.inbox <- cmd:
		return true
	default:
		return false
	}
}

// Submit enqueues act and waits for its result. It is safe to call from any goroutine.
func (n *Network) Submit(ctx context.Context, session string, act protocol.ActMsg) (protocol.ActResultMsg, error) {
	resp := make(chan protocol.ActResultMsg, 1)
	select {
	case n.inbox <- Command{Session: session, Act: act, Resp: resp}:
	case <-n.done:
		return protocol.ActResultMsg{}, errClosed
	case <-ctx.Done():
		return protocol.ActResultMsg{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-n.done:
		return protocol.ActResultMsg{}, errClosed
	case <-ctx.Done():
		return protocol.ActResultMsg{}, ctx.Err()
	}
}

// structural commands change membership or ordering and run before any routing in a tick.
func structural(action string) bool {
	switch action {
	case protocol.ActLink, protocol.ActUnlink, protocol.ActConfigure, protocol.ActSetPriority:
		return true
	}
	return false
}

func (n *Network) reply(cmd Command, res protocol.ActResultMsg) {
	if cmd.Resp != nil {
		select {
		case cmd.Resp <- res:
		default:
			// Caller gave up; don't block the loop.
		}
		return
	}
	if cmd.Out == nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	select {
	case cmd.Out <- b:
	default:
	}
}

func newResult(act protocol.ActMsg, tick uint64) protocol.ActResultMsg {
	return protocol.ActResultMsg{
		Type:            protocol.TypeActResult,
		ProtocolVersion: protocol.Version,
		ID:              act.ID,
		Tick:            tick,
		OK:              true,
	}
}

func fail(res protocol.ActResultMsg, code, msg string) protocol.ActResultMsg {
	res.OK = false
	res.Code = code
	res.Message = msg
	return res
}

func failErr(res protocol.ActResultMsg, err error) protocol.ActResultMsg {
	return fail(res, ErrorCode(err), err.Error())
}

// BusyResult is the reply to an ACT that could not be queued for this tick.
func BusyResult(act protocol.ActMsg, tick uint64) protocol.ActResultMsg {
	return fail(newResult(act, tick), protocol.ErrNetworkBusy, "too many commands this tick")
}

func needPos(act protocol.ActMsg) (model.Vec3i, error) {
	if act.Pos == nil {
		return model.Vec3i{}, fmt.Errorf("%w: pos required", ErrBadArgument)
	}
	return model.FromArray(*act.Pos), nil
}

// apply executes one ACT on the loop goroutine.
func (n *Network) apply(session string, act protocol.ActMsg, now uint64) protocol.ActResultMsg {
	res := newResult(act, now)
	actor := session
	if actor == "" {
		actor = "ADMIN"
	}

	switch act.Action {
	case protocol.ActDeposit:
		if act.Stack == nil || act.Stack.Item == "" || act.Stack.Count <= 0 {
			return fail(res, protocol.ErrBadRequest, "stack with item and positive count required")
		}
		if !n.knownItem(act.Stack.Item) {
			return fail(res, protocol.ErrBadRequest, "unknown item "+act.Stack.Item)
		}
		r := n.Deposit(model.Stack{Item: act.Stack.Item, Count: act.Stack.Count}, actor)
		res.Moved = r.Placed
		res.Overflowed = r.Overflowed
		if !r.Remainder.Empty() {
			res.Remainder = &protocol.ItemStack{Item: r.Remainder.Item, Count: r.Remainder.Count}
		}
		if r.HasDestination {
			dst := r.Destination.ToArray()
			res.Destination = &dst
			res.DestinationName = r.DestinationName
		}
		if r.Placed == 0 {
			return fail(res, protocol.ErrNoSpace, "no container accepted the stack")
		}
		return res

	case protocol.ActWithdraw:
		if act.Item == "" || act.Count <= 0 {
			return fail(res, protocol.ErrBadRequest, "item and positive count required")
		}
		got := n.Withdraw(act.Item, act.Count, actor)
		res.Moved = got.Count
		if got.Empty() {
			return fail(res, protocol.ErrNoResource, "item not stored in network")
		}
		return res

	case protocol.ActLink:
		p, err := needPos(act)
		if err != nil {
			return failErr(res, err)
		}
		if act.Target == nil {
			return fail(res, protocol.ErrBadRequest, "target required")
		}
		if err := n.Link(p, model.FromArray(*act.Target), actor); err != nil {
			return failErr(res, err)
		}
		return res

	case protocol.ActUnlink:
		p, err := needPos(act)
		if err == nil {
			err = n.Unlink(p, actor)
		}
		if err != nil {
			return failErr(res, err)
		}
		return res

	case protocol.ActConfigure:
		p, err := needPos(act)
		if err == nil && act.Config == nil {
			err = fmt.Errorf("%w: config required", ErrBadArgument)
		}
		if err == nil {
			err = n.Configure(p, *act.Config, actor)
		}
		if err != nil {
			return failErr(res, err)
		}
		return res

	case protocol.ActSetPriority:
		p, err := needPos(act)
		if err == nil && act.Priority == nil {
			err = fmt.Errorf("%w: priority required", ErrBadArgument)
		}
		if err == nil {
			err = n.SetManualPriority(p, *act.Priority)
		}
		if err != nil {
			return failErr(res, err)
		}
		cfg, _ := n.reg.Config(p)
		n.audit(AuditEntry{Actor: actor, Action: AuditSetPriority, Pos: p.ToArray(), Count: cfg.Priority()})
		return res

	case protocol.ActSort:
		p, err := needPos(act)
		if err == nil {
			err = n.DepositAll(p, actor)
		}
		if err != nil {
			return failErr(res, err)
		}
		return res

	default:
		return fail(res, protocol.ErrBadRequest, "unknown action "+act.Action)
	}
}

func (n *Network) knownItem(item string) bool {
	if n.items == nil || len(n.items.Defs) == 0 {
		return true
	}
	_, ok := n.items.Defs[item]
	return ok
}
