/*
Package consensus implements decentralized agent coordination: any node can
broadcast a proposal, every node that sees it casts a vote, and the
proposer finalizes the outcome once its ThresholdPolicy says the tally is
conclusive. Four policies are provided — simple majority, Byzantine
supermajority, a Raft-style leader-only majority with leader election, and a
proof-of-work stand-in that accepts the first verified vote — chosen as a
pluggable interface rather than a branch per consensus type, so adding a
fifth policy never touches this package's core loop.
*/
package consensus
