package consensus

import "math"

// DecisionContext carries everything a ThresholdPolicy needs to decide
// whether a proposal's vote tally is conclusive.
type DecisionContext struct {
	TotalNodes int // active peers + self
	Accept     int
	Reject     int
	TotalVotes int
	IsLeader   bool

	// Proposal and LatestVote give a policy that needs more than the bare
	// tally (ProofOfWorkPolicy's VoteVerifier) something to inspect. Both
	// are nil unless the caller has them to hand.
	Proposal   *Proposal
	LatestVote *Vote
}

// ThresholdPolicy decides, from a proposal's current vote tally, whether
// consensus has been reached and in which direction. Different consensus
// types (simple majority, Byzantine, Raft-style, proof-of-work) are each one
// concrete policy rather than a branch in a shared switch, per this
// module's preference for tagged-variant interfaces over type ladders.
type ThresholdPolicy interface {
	Name() string
	Decide(ctx DecisionContext) (decided, accepted bool)
}

// SimpleMajorityPolicy declares consensus once either side of the vote
// reaches a strict majority of all known nodes.
type SimpleMajorityPolicy struct{}

func (SimpleMajorityPolicy) Name() string { return "simple_majority" }

func (SimpleMajorityPolicy) Decide(ctx DecisionContext) (bool, bool) {
	required := ctx.TotalNodes/2 + 1
	if ctx.Accept >= required {
		return true, true
	}
	if ctx.Reject >= required {
		return true, false
	}
	return false, false
}

// DefaultByzantineThreshold is the default 2/3 supermajority used by
// ByzantineFaultTolerantPolicy when Threshold is unset.
const DefaultByzantineThreshold = 0.67

// ByzantineFaultTolerantPolicy requires a 2/3 supermajority to accept, and
// treats enough rejections that 2/3 acceptance becomes impossible as an
// early rejection.
type ByzantineFaultTolerantPolicy struct {
	Threshold float64
}

func (ByzantineFaultTolerantPolicy) Name() string { return "byzantine" }

func (p ByzantineFaultTolerantPolicy) Decide(ctx DecisionContext) (bool, bool) {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultByzantineThreshold
	}
	required := int(math.Ceil(float64(ctx.TotalNodes) * threshold))
	if ctx.Accept >= required {
		return true, true
	}
	if ctx.Reject >= ctx.TotalNodes-required+1 {
		return true, false
	}
	return false, false
}

// RaftStylePolicy only lets the current leader declare consensus, and only
// on accept votes — a non-leader never finalizes a proposal under this
// policy, matching Raft's single-writer model.
type RaftStylePolicy struct{}

func (RaftStylePolicy) Name() string { return "raft" }

func (RaftStylePolicy) Decide(ctx DecisionContext) (bool, bool) {
	if !ctx.IsLeader {
		return false, false
	}
	required := ctx.TotalNodes/2 + 1
	if ctx.Accept >= required {
		return true, true
	}
	return false, false
}

// VoteVerifier validates a vote before ProofOfWorkPolicy counts it. The
// default AcceptFirstVerifier is a documented stand-in: this module does
// not implement a real proof-of-work challenge, since the original system
// this was modeled on never did either (its "proof of work" path accepted
// the first vote cast, unverified). A real deployment would supply a
// VoteVerifier that checks a work solution against the proposal.
type VoteVerifier interface {
	Verify(vote *Vote, proposal *Proposal) bool
}

// AcceptFirstVerifier accepts any vote without verification.
type AcceptFirstVerifier struct{}

func (AcceptFirstVerifier) Verify(*Vote, *Proposal) bool { return true }

// ProofOfWorkPolicy declares consensus as soon as one verified vote arrives.
// Verifier defaults to AcceptFirstVerifier when unset.
type ProofOfWorkPolicy struct {
	Verifier VoteVerifier
}

func (ProofOfWorkPolicy) Name() string { return "proof_of_work" }

func (p ProofOfWorkPolicy) Decide(ctx DecisionContext) (bool, bool) {
	if ctx.TotalVotes == 0 {
		return false, false
	}
	if ctx.LatestVote != nil {
		verifier := p.Verifier
		if verifier == nil {
			verifier = AcceptFirstVerifier{}
		}
		if !verifier.Verify(ctx.LatestVote, ctx.Proposal) {
			return false, false
		}
	}
	return true, ctx.Accept > 0
}
