package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/edgerpc/internal/instrumentation"
	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Dispatch handles one inbound call to completion, reply included.
func (c *Connection) Dispatch(ctx context.Context, msg protocol.Message) {
	if run := c.Accept(ctx, msg); run != nil {
		run()
	}
}

// Accept does the ordered part of dispatch: guid lookup, method lookup,
// params and metadata validation, and three-phase wait bookkeeping. It
// returns the remaining work, or nil when the call was answered already.
func (c *Connection) Accept(ctx context.Context, msg protocol.Message) func() {
	if err := msg.ValidateCall(); err != nil {
		log.Warn().Err(err).Str("conn", c.id).Uint64("id", msg.ID).Msg("dispatcher.Connection.Accept invalid envelope")
		if msg.ID != 0 {
			c.reply(protocol.ErrorReply(msg.ID, err, nil))
		}
		return nil
	}

	obj, ok := c.Lookup(msg.GUID)
	if !ok {
		c.reply(protocol.ErrorReply(msg.ID, &protocol.TargetClosedError{}, nil))
		return nil
	}

	isWait := msg.Method == schema.MethodWaitForEventInfo
	method, implemented := obj.methods[msg.Method]
	if !isWait && !implemented {
		err := fmt.Errorf("Mismatching dispatcher: %q does not implement %q", obj.typ, msg.Method)
		c.reply(protocol.ErrorReply(msg.ID, err, nil))
		return nil
	}

	validParams, err := c.validateInbound(obj.typ, msg.Method, schema.PhaseParams, paramsOrEmpty(msg.Params))
	if err != nil {
		c.reply(protocol.ErrorReply(msg.ID, err, nil))
		return nil
	}
	validMetadata, err := schema.Metadata(paramsOrEmpty(msg.Metadata), "", c.inCtx)
	if err != nil {
		c.reply(protocol.ErrorReply(msg.ID, err, nil))
		return nil
	}
	params := schema.Params(asParams(validParams))
	md := c.newCallMetadata(obj, msg.Method, params, schema.Params(asParams(validMetadata)))
	md.ClosesScope = method.ClosesScope

	if isWait {
		c.handleWait(ctx, msg.ID, md, params.Map("info"))
		return nil
	}

	ctrl := progress.NewController(progress.Options{
		Mode: c.cfg.Mode,
		OnLog: func(message string) {
			md.AppendLog(message)
			c.hooks.OnCallLog(ctx, md, message)
		},
	})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if obj.disposed {
		c.mu.Unlock()
		c.reply(protocol.ErrorReply(msg.ID, &protocol.TargetClosedError{Reason: closeReason(obj.resource)}, nil))
		return nil
	}
	obj.activeCalls[ctrl] = method.ClosesScope
	c.active[ctrl] = struct{}{}
	c.mu.Unlock()

	return func() {
		c.runCall(ctx, obj, method, ctrl, md, msg.ID, params)
	}
}

func (c *Connection) newCallMetadata(obj *Object, method string, params, metadata schema.Params) *instrumentation.CallMetadata {
	md := &instrumentation.CallMetadata{
		ID:        fmt.Sprintf("call@%d", c.callSeq.Add(1)),
		ConnID:    c.id,
		Type:      obj.typ,
		Method:    method,
		ObjectID:  obj.guid,
		APIName:   metadata.String("apiName"),
		Internal:  metadata.Bool("internal"),
		StepID:    metadata.String("stepId"),
		Params:    params,
		StartTime: time.Now(),
	}
	if loc := metadata.Map("location"); loc != nil {
		line, _ := loc.Int("line")
		column, _ := loc.Int("column")
		md.Location = &instrumentation.Location{File: loc.String("file"), Line: line, Column: column}
	}
	return md
}

// handleWait tracks one waitForEventInfo phase. Each phase is acked at once
// so a long wait reports progress without a blocking round trip.
func (c *Connection) handleWait(ctx context.Context, id uint64, md *instrumentation.CallMetadata, info schema.Params) {
	waitID := info.String("waitId")
	switch info.String("phase") {
	case schema.WaitBefore:
		md.WaitID = waitID
		c.mu.Lock()
		c.waits[waitID] = md
		c.mu.Unlock()
		c.hooks.OnBeforeCall(ctx, md)
	case schema.WaitLog:
		c.mu.Lock()
		started := c.waits[waitID]
		c.mu.Unlock()
		if started != nil {
			message := info.String("message")
			started.AppendLog(message)
			c.hooks.OnCallLog(ctx, started, message)
		}
	case schema.WaitAfter:
		c.mu.Lock()
		started := c.waits[waitID]
		delete(c.waits, waitID)
		c.mu.Unlock()
		if started != nil {
			started.EndTime = time.Now()
			if msg := info.String("error"); msg != "" {
				started.Error = errors.New(msg)
			}
			c.hooks.OnAfterCall(ctx, started)
		}
	}
	c.reply(protocol.Reply(id, nil))
}

func (c *Connection) runCall(ctx context.Context, obj *Object, method Method, ctrl *progress.Controller, md *instrumentation.CallMetadata, id uint64, params schema.Params) {
	defer func() {
		c.mu.Lock()
		delete(obj.activeCalls, ctrl)
		delete(c.active, ctrl)
		c.mu.Unlock()
	}()

	c.hooks.OnBeforeCall(ctx, md)
	timeout := time.Duration(0)
	if ms, ok := params.Float("timeout"); ok && ms > 0 {
		timeout = time.Duration(ms * float64(time.Millisecond))
	}

	result, err := ctrl.Run(ctx, func(p *progress.Progress) (any, error) {
		return method.Fn(p, params)
	}, timeout)
	var wire any
	if err == nil {
		wire, err = c.validateResult(obj.typ, md.Method, result)
	}
	if err != nil {
		err = rewriteError(obj, err)
		md.Error = err
	} else {
		md.Result = wire
	}
	md.EndTime = time.Now()
	c.hooks.OnAfterCall(ctx, md)

	if err != nil {
		log.Debug().Err(err).Str("conn", c.id).Str("guid", obj.guid).Str("method", md.Method).Msg("dispatcher.Connection.runCall failed")
		c.reply(protocol.ErrorReply(id, err, protocol.CompressCallLog(md.Log())))
		return
	}
	c.reply(protocol.Reply(id, wire))
}

// validateResult converts a validator panic on handler output into an error
// reply instead of taking down the serve loop.
func (c *Connection) validateResult(typ, method string, result any) (wire any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("conn", c.id).Str("type", typ).Str("method", method).Msg("dispatcher.Connection.validateResult recovered")
			wire, err = nil, fmt.Errorf("%s.%s: invalid result: %v", typ, method, r)
		}
	}()
	return c.validateOutbound(typ, method, schema.PhaseResult, result)
}

// rewriteError folds resource close reasons into closed-target errors.
func rewriteError(obj *Object, err error) error {
	reason := closeReason(obj.resource)
	var tc *protocol.TargetClosedError
	if errors.As(err, &tc) {
		if tc.Reason == "" && reason != "" {
			return &protocol.TargetClosedError{Reason: reason}
		}
		return err
	}
	var pe *protocol.ProtocolError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case protocol.ProtocolClosed:
			if reason == "" {
				reason = pe.Log
			}
			return &protocol.TargetClosedError{Reason: reason}
		case protocol.ProtocolCrashed:
			return &protocol.ProtocolError{Kind: protocol.ProtocolCrashed, Message: "Target crashed " + pe.Log}
		}
	}
	return err
}

func paramsOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
