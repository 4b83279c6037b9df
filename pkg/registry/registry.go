// Package registry is the catalog of coordination protocol types available
// to a workflow, and the book-keeping for instances created from them. It is
// an explicit, constructed value rather than a process-wide singleton: a
// caller builds one and hands it to whatever needs it, so tests (and
// multiple workflows in the same process) never share mutable global state.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agenticraft/a2a/pkg/consensus"
	"github.com/agenticraft/a2a/pkg/mesh"
	"github.com/agenticraft/a2a/pkg/protocol"
	"github.com/agenticraft/a2a/pkg/router"
	"github.com/agenticraft/a2a/pkg/transport"
)

// Factory builds a new, unstarted Protocol instance bound to nodeID and
// wired to broker.
type Factory func(nodeID string, broker *transport.Broker) protocol.Protocol

// Metadata describes a registered protocol type for selection and
// introspection purposes.
type Metadata struct {
	Description      string
	CoordinationType string // "centralized", "decentralized", or "hybrid"
	Features         []string
}

// Stats is a point-in-time snapshot of registry occupancy.
type Stats struct {
	TotalProtocols      int
	TotalInstances      int
	InstancesByProtocol map[string]int
}

// Registry is a catalog of protocol factories plus the instances created
// from them, keyed "<protocol name>:<node id>".
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	metadata  map[string]Metadata
	instances map[string]protocol.Protocol
}

// New constructs a Registry with the three built-in coordination protocols
// already registered: task_router, consensus, and mesh_network.
func New() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		metadata:  make(map[string]Metadata),
		instances: make(map[string]protocol.Protocol),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	_ = r.RegisterProtocol("task_router", func(nodeID string, broker *transport.Broker) protocol.Protocol {
		return router.New(nodeID, broker, router.DefaultConfig())
	}, Metadata{
		Description:      "centralized task routing with priority scheduling and load-aware worker selection",
		CoordinationType: "centralized",
		Features:         []string{"load_balancing", "priority_queue", "failover"},
	})

	_ = r.RegisterProtocol("consensus", func(nodeID string, broker *transport.Broker) protocol.Protocol {
		return consensus.New(nodeID, broker, consensus.SimpleMajorityPolicy{}, consensus.DefaultConfig())
	}, Metadata{
		Description:      "decentralized proposal/vote consensus",
		CoordinationType: "decentralized",
		Features:         []string{"byzantine_tolerance", "leader_election", "voting"},
	})

	_ = r.RegisterProtocol("mesh_network", func(nodeID string, broker *transport.Broker) protocol.Protocol {
		return mesh.New(nodeID, broker, mesh.DefaultConfig())
	}, Metadata{
		Description:      "self-organizing mesh network",
		CoordinationType: "hybrid",
		Features:         []string{"auto_discovery", "fault_tolerance", "routing"},
	})
}

// RegisterProtocol adds a protocol type under name. It returns an error if
// name is already registered.
func (r *Registry) RegisterProtocol(name string, factory Factory, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("registry: protocol %q already registered", name)
	}
	r.factories[name] = factory
	r.metadata[name] = meta
	return nil
}

// UnregisterProtocol removes a protocol type. Any existing instances of it
// are left running; callers should stop them first if that matters.
func (r *Registry) UnregisterProtocol(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; !exists {
		return fmt.Errorf("registry: unknown protocol %q", name)
	}
	delete(r.factories, name)
	delete(r.metadata, name)
	return nil
}

// CreateInstance builds a new instance of the named protocol type for
// nodeID, records it, and returns it unstarted.
func (r *Registry) CreateInstance(name, nodeID string, broker *transport.Broker) (protocol.Protocol, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown protocol %q", name)
	}

	instance := factory(nodeID, broker)
	r.instances[instanceKey(name, nodeID)] = instance
	return instance, nil
}

// GetInstance returns a previously created instance, if one exists.
func (r *Registry) GetInstance(name, nodeID string) (protocol.Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.instances[instanceKey(name, nodeID)]
	return instance, ok
}

// ListProtocols returns every registered protocol name, sorted.
func (r *Registry) ListProtocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProtocolInfo returns the registered Metadata for name.
func (r *Registry) ProtocolInfo(name string) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.metadata[name]
	if !ok {
		return Metadata{}, fmt.Errorf("registry: unknown protocol %q", name)
	}
	return meta, nil
}

// ListInstances returns a snapshot of every instance currently tracked.
func (r *Registry) ListInstances() map[string]protocol.Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]protocol.Protocol, len(r.instances))
	for k, v := range r.instances {
		out[k] = v
	}
	return out
}

// SelectProtocol picks a registered protocol name matching coordinationType
// and, if given, every feature in features. It falls back to "mesh_network"
// when nothing matches, since a hybrid mesh can always stand in for a more
// specialized protocol.
func (r *Registry) SelectProtocol(coordinationType string, features []string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metadata))
	for name := range r.metadata {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		meta := r.metadata[name]
		if meta.CoordinationType != coordinationType {
			continue
		}
		if hasAllFeatures(meta.Features, features) {
			return name
		}
	}
	return "mesh_network"
}

func hasAllFeatures(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, f := range have {
		haveSet[f] = struct{}{}
	}
	for _, f := range want {
		if _, ok := haveSet[f]; !ok {
			return false
		}
	}
	return true
}

// StopAllInstances stops every tracked instance concurrently and clears the
// instance table.
func (r *Registry) StopAllInstances() {
	r.mu.Lock()
	instances := make([]protocol.Protocol, 0, len(r.instances))
	for _, instance := range r.instances {
		instances = append(instances, instance)
	}
	r.instances = make(map[string]protocol.Protocol)
	r.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(instances))
	for _, instance := range instances {
		go func(p protocol.Protocol) {
			defer wg.Done()
			_ = p.Stop()
		}(instance)
	}
	wg.Wait()
}

// Statistics summarizes current registry occupancy.
func (r *Registry) Statistics() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byProtocol := make(map[string]int)
	for key := range r.instances {
		for i := 0; i < len(key); i++ {
			if key[i] == ':' {
				byProtocol[key[:i]]++
				break
			}
		}
	}

	return Stats{
		TotalProtocols:      len(r.factories),
		TotalInstances:      len(r.instances),
		InstancesByProtocol: byProtocol,
	}
}

func instanceKey(protocolName, nodeID string) string {
	return protocolName + ":" + nodeID
}
