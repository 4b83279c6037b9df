/*
Package protocol defines the shared node/message model and the Protocol
interface implemented by every coordination protocol in this module:
pkg/router (centralized), pkg/consensus (decentralized), and pkg/mesh
(hybrid).

A Protocol instance is bound to a single node for its entire lifetime.
Coordinating N agents under one protocol means running N instances, one per
node, wired together through a shared transport.Broker standing in for the
network. BaseProtocol supplies every instance with the same node directory,
default heartbeat/discovery/status handling, and message dispatch loop;
concrete protocols embed it and add their own scheduling, election, or
routing logic on top.
*/
package protocol
