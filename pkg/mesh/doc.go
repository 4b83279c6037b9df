/*
Package mesh implements decentralized agent coordination over a
self-organizing topology: each node keeps a bounded set of direct
connections, maintains a distance-vector routing table built from those
connections, and answers ExecuteDistributed calls by picking a capable
peer with a round-robin, random, or least-busy strategy rather than
routing every task through one coordinator.
*/
package mesh
