// Package bridge defines the shape external-protocol bridging takes without
// providing a concrete implementation: per spec.md §1, talking to
// third-party agent ecosystems over an out-of-process transport is
// explicitly out of scope. What the core owns is the contract a caller's
// own adapter must satisfy, plus the routing bookkeeping (rules keyed by
// message type, message transforms between named bridges) that any such
// adapter would plug into.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenticraft/a2a/pkg/corelog"
	"github.com/agenticraft/a2a/pkg/protocol"
)

// ExternalBridge is the contract a caller-supplied adapter implements to
// forward messages to an out-of-process protocol or agent ecosystem. The
// core never implements this itself; it only routes to whatever
// implementations a caller registers.
type ExternalBridge interface {
	Name() string
	Forward(ctx context.Context, msg *protocol.Message) error
}

// Transformer rewrites a message on its way from one bridge to another,
// e.g. to translate field names or content shape between two external
// protocol dialects.
type Transformer func(msg *protocol.Message) (*protocol.Message, error)

// transformKey identifies one registered Transformer by its source and
// destination bridge names.
type transformKey struct {
	from string
	to   string
}

// Metrics counts the bridge's routing activity since construction.
type Metrics struct {
	MessagesRouted      int
	MessagesTransformed int
	RoutingErrors       int
}

// Router holds a set of named ExternalBridge adapters plus the rules for
// routing a Message to one or more of them, and the transforms to apply
// along the way. It never starts a background loop or owns a transport of
// its own — RouteMessage is called synchronously by whatever protocol
// produced the message.
type Router struct {
	mu           sync.Mutex
	bridges      map[string]ExternalBridge
	routingRules map[protocol.MessageType][]string
	transforms   map[transformKey]Transformer
	metrics      Metrics
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{
		bridges:      make(map[string]ExternalBridge),
		routingRules: make(map[protocol.MessageType][]string),
		transforms:   make(map[transformKey]Transformer),
	}
}

// RegisterBridge adds b under its own Name(). Registering a name twice is
// an error rather than a silent overwrite.
func (r *Router) RegisterBridge(b ExternalBridge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := b.Name()
	if _, exists := r.bridges[name]; exists {
		return fmt.Errorf("bridge: %q already registered", name)
	}
	r.bridges[name] = b
	corelog.Logger.Info().Str("event", "bridge_registered").Str("bridge", name).Msg("bridge registered")
	return nil
}

// UnregisterBridge removes name and drops it from every routing rule that
// named it.
func (r *Router) UnregisterBridge(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, name)
	for msgType, targets := range r.routingRules {
		kept := targets[:0]
		for _, t := range targets {
			if t != name {
				kept = append(kept, t)
			}
		}
		r.routingRules[msgType] = kept
	}
}

// AddRoutingRule routes every message of msgType to targetBridges. Every
// name in targetBridges must already be registered.
func (r *Router) AddRoutingRule(msgType protocol.MessageType, targetBridges []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range targetBridges {
		if _, ok := r.bridges[name]; !ok {
			return fmt.Errorf("bridge: unknown bridge %q in routing rule", name)
		}
	}
	r.routingRules[msgType] = append([]string(nil), targetBridges...)
	return nil
}

// AddTransform registers fn to run on any message routed from the
// fromBridge to the toBridge.
func (r *Router) AddTransform(fromBridge, toBridge string, fn Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[transformKey{from: fromBridge, to: toBridge}] = fn
}

// RouteMessage forwards msg, which arrived via sourceBridge (empty if it
// originated in-core), to every bridge the routing rules select, applying
// any registered transform first. It returns the first forwarding error
// encountered, having still attempted every target.
func (r *Router) RouteMessage(ctx context.Context, msg *protocol.Message, sourceBridge string) error {
	r.mu.Lock()
	targets := r.resolveTargetsLocked(msg, sourceBridge)
	r.metrics.MessagesRouted++
	r.mu.Unlock()

	var firstErr error
	for _, target := range targets {
		if target == sourceBridge {
			continue
		}

		r.mu.Lock()
		adapter, ok := r.bridges[target]
		transform := r.transforms[transformKey{from: sourceBridge, to: target}]
		r.mu.Unlock()
		if !ok {
			continue
		}

		forwarded := msg
		if transform != nil {
			t, err := transform(msg)
			if err != nil {
				r.recordError()
				corelog.Logger.Error().Err(err).Str("event", "bridge_transform_failed").Str("target", target).Msg("bridge transform failed")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			forwarded = t
			r.mu.Lock()
			r.metrics.MessagesTransformed++
			r.mu.Unlock()
		}

		if err := adapter.Forward(ctx, forwarded); err != nil {
			r.recordError()
			corelog.Logger.Error().Err(err).Str("event", "bridge_forward_failed").Str("target", target).Msg("bridge forward failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) recordError() {
	r.mu.Lock()
	r.metrics.RoutingErrors++
	r.mu.Unlock()
}

// resolveTargetsLocked decides which bridges msg should be forwarded to.
// Precedence: an explicit routing rule for msg.Type, then a
// "target_bridges" metadata hint, then broadcast-to-all for a broadcast
// message, then every bridge other than the source.
func (r *Router) resolveTargetsLocked(msg *protocol.Message, sourceBridge string) []string {
	if targets, ok := r.routingRules[msg.Type]; ok {
		return targets
	}
	if hint, ok := msg.Metadata["target_bridges"].([]string); ok {
		filtered := make([]string, 0, len(hint))
		for _, name := range hint {
			if _, known := r.bridges[name]; known {
				filtered = append(filtered, name)
			}
		}
		return filtered
	}
	if msg.Type == protocol.MessageBroadcast {
		return r.allBridgeNamesLocked()
	}

	all := r.allBridgeNamesLocked()
	targets := make([]string, 0, len(all))
	for _, name := range all {
		if name != sourceBridge {
			targets = append(targets, name)
		}
	}
	return targets
}

func (r *Router) allBridgeNamesLocked() []string {
	names := make([]string, 0, len(r.bridges))
	for name := range r.bridges {
		names = append(names, name)
	}
	return names
}

// Stats returns a snapshot of the router's routing counters.
func (r *Router) Stats() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

// Bridges lists the names of every currently registered bridge.
func (r *Router) Bridges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allBridgeNamesLocked()
}
