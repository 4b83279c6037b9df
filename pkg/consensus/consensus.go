// Package consensus implements the decentralized coordination protocol:
// nodes broadcast proposals, vote on each other's proposals, and finalize
// once a pluggable ThresholdPolicy declares the tally conclusive.
package consensus

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/agenticraft/a2a/pkg/coreerr"
	"github.com/agenticraft/a2a/pkg/protocol"
	"github.com/agenticraft/a2a/pkg/transport"
	"github.com/google/uuid"
)

// Config tunes proposal lifetime and, for the Raft-style policy, election
// timing.
type Config struct {
	MinNodes            int
	ProposalTimeout     time.Duration
	ProposalRetention   time.Duration
	HeartbeatInterval   time.Duration
	ElectionTimeoutMin  time.Duration
	ElectionTimeoutMax  time.Duration
}

// DefaultConfig mirrors the tuning of the system this protocol is modeled
// on: 30s proposals, 5s heartbeats, 10-20s randomized election timeouts.
func DefaultConfig() Config {
	return Config{
		MinNodes:           3,
		ProposalTimeout:    30 * time.Second,
		ProposalRetention:  time.Hour,
		HeartbeatInterval:  5 * time.Second,
		ElectionTimeoutMin: 10 * time.Second,
		ElectionTimeoutMax: 20 * time.Second,
	}
}

type decisionOutcome struct {
	accepted bool
	err      error
}

// Protocol is the Protocol implementation for decentralized consensus.
type Protocol struct {
	*protocol.BaseProtocol
	cfg    Config
	policy ThresholdPolicy

	mu        sync.Mutex
	proposals map[string]*Proposal
	pending   map[string]chan decisionOutcome
	leaderID  string
	term      int

	electionMu    sync.Mutex
	electionTerm  int
	electionVotes map[string]bool

	heartbeatSeen chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a consensus Protocol bound to nodeID, using policy to
// decide proposal outcomes.
func New(nodeID string, broker *transport.Broker, policy ThresholdPolicy, cfg Config) *Protocol {
	c := &Protocol{
		BaseProtocol:  protocol.NewBaseProtocol("consensus", nodeID, broker),
		cfg:           cfg,
		policy:        policy,
		proposals:     make(map[string]*Proposal),
		pending:       make(map[string]chan decisionOutcome),
		heartbeatSeen: make(chan struct{}, 1),
	}
	c.RegisterHandler(protocol.MessageConsensus, c.handleConsensusMessage)
	return c
}

// Start begins dispatch, the expiry/cleanup loop, and, for RaftStylePolicy,
// the election loop.
func (c *Protocol) Start(ctx context.Context) error {
	if err := c.BaseProtocol.Start(ctx); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consensusLoop(loopCtx)

	if _, isRaft := c.policy.(RaftStylePolicy); isRaft {
		c.wg.Add(1)
		go c.electionLoop(loopCtx)
	}
	return nil
}

// Stop halts the background loops, then the base dispatch loop.
func (c *Protocol) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.BaseProtocol.Stop()
}

// Propose broadcasts content for consensus and blocks until the policy
// declares a result, the proposal expires, or ctx is cancelled.
func (c *Protocol) Propose(ctx context.Context, content map[string]interface{}, timeout time.Duration) (bool, error) {
	active := c.ActiveNodes()
	if len(active)+1 < c.cfg.MinNodes {
		return false, fmt.Errorf("propose: %w", coreerr.ErrInsufficientNodes)
	}
	if timeout <= 0 {
		timeout = c.cfg.ProposalTimeout
	}

	proposal := &Proposal{
		ID:         uuid.New().String(),
		ProposerID: c.NodeID,
		Content:    content,
		Status:     ProposalVoting,
		Votes:      make(map[string]*Vote),
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(timeout),
	}

	outcome := make(chan decisionOutcome, 1)
	c.mu.Lock()
	c.proposals[proposal.ID] = proposal
	c.pending[proposal.ID] = outcome
	c.mu.Unlock()

	msg := protocol.NewMessage(protocol.MessageConsensus, c.NodeID)
	msg.Content["action"] = "propose"
	msg.Content["proposal"] = serializeProposal(proposal)
	if err := c.Broadcast(ctx, msg); err != nil {
		c.Log.Error().Err(err).Str("proposal_id", proposal.ID).Msg("failed to broadcast proposal")
	}

	selfVote := &Vote{VoterID: c.NodeID, ProposalID: proposal.ID, Value: true, Timestamp: time.Now()}
	c.mu.Lock()
	proposal.AddVote(selfVote)
	c.maybeFinalizeLocked(proposal, selfVote)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-outcome:
		return result.accepted, result.err
	case <-timer.C:
		c.mu.Lock()
		proposal.Status = ProposalExpired
		delete(c.pending, proposal.ID)
		c.mu.Unlock()
		return false, fmt.Errorf("proposal %s: %w", proposal.ID, coreerr.ErrTaskTimeout)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, proposal.ID)
		c.mu.Unlock()
		return false, ctx.Err()
	}
}

// maybeFinalizeLocked checks proposal's vote tally against the configured
// policy and finalizes it if conclusive. vote is whichever vote was just
// added and triggered this check, passed through to the policy for the
// policies that need more than the bare tally. Caller holds c.mu.
func (c *Protocol) maybeFinalizeLocked(proposal *Proposal, vote *Vote) {
	if proposal.Status != ProposalVoting {
		return
	}
	accept, reject := proposal.VoteCount()
	decided, accepted := c.policy.Decide(DecisionContext{
		TotalNodes: len(c.ActiveNodes()) + 1,
		Accept:     accept,
		Reject:     reject,
		TotalVotes: accept + reject,
		IsLeader:   c.leaderID == c.NodeID,
		Proposal:   proposal,
		LatestVote: vote,
	})
	if !decided {
		return
	}

	if accepted {
		proposal.Status = ProposalAccepted
	} else {
		proposal.Status = ProposalRejected
	}

	if outcome, ok := c.pending[proposal.ID]; ok {
		delete(c.pending, proposal.ID)
		outcome <- decisionOutcome{accepted: accepted}
	}

	result := protocol.NewMessage(protocol.MessageConsensus, c.NodeID)
	result.Content["action"] = "result"
	result.Content["proposal_id"] = proposal.ID
	result.Content["status"] = string(proposal.Status)
	result.Content["accept_votes"] = accept
	result.Content["reject_votes"] = reject
	go c.Broadcast(context.Background(), result)
}

func (c *Protocol) consensusLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.expireProposals()
			c.cleanupOldProposals()
		}
	}
}

func (c *Protocol) expireProposals() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, proposal := range c.proposals {
		if proposal.Status == ProposalVoting && proposal.IsExpired() {
			proposal.Status = ProposalExpired
			if outcome, ok := c.pending[proposal.ID]; ok {
				delete(c.pending, proposal.ID)
				select {
				case outcome <- decisionOutcome{err: coreerr.ErrTaskTimeout}:
				default:
				}
			}
		}
	}
}

func (c *Protocol) cleanupOldProposals() {
	cutoff := time.Now().Add(-c.cfg.ProposalRetention)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, proposal := range c.proposals {
		terminal := proposal.Status == ProposalAccepted || proposal.Status == ProposalRejected || proposal.Status == ProposalExpired
		if terminal && proposal.CreatedAt.Before(cutoff) {
			delete(c.proposals, id)
			delete(c.pending, id)
		}
	}
}

func (c *Protocol) handleConsensusMessage(ctx context.Context, msg *protocol.Message) error {
	action, _ := msg.Content["action"].(string)
	switch action {
	case "propose":
		return c.handleProposal(ctx, msg)
	case "vote":
		return c.handleVote(ctx, msg)
	case "result":
		return c.handleResult(ctx, msg)
	case "request_vote":
		return c.handleVoteRequest(ctx, msg)
	case "vote_response":
		return c.handleVoteResponse(ctx, msg)
	case "heartbeat":
		return c.handleLeaderHeartbeat(ctx, msg)
	default:
		return fmt.Errorf("consensus: unknown action %q", action)
	}
}

func (c *Protocol) handleProposal(ctx context.Context, msg *protocol.Message) error {
	data, _ := msg.Content["proposal"].(map[string]interface{})
	proposal := deserializeProposal(data)
	if proposal.ID == "" {
		return fmt.Errorf("consensus: proposal missing id")
	}
	proposal.Status = ProposalVoting
	proposal.Votes = make(map[string]*Vote)

	c.mu.Lock()
	c.proposals[proposal.ID] = proposal
	c.mu.Unlock()

	accept := decideVote(proposal.Content)
	vote := &Vote{VoterID: c.NodeID, ProposalID: proposal.ID, Value: accept, Timestamp: time.Now()}

	response := protocol.NewMessage(protocol.MessageConsensus, c.NodeID)
	response.Target = proposal.ProposerID
	response.Content["action"] = "vote"
	response.Content["vote"] = map[string]interface{}{
		"proposal_id": proposal.ID,
		"value":       vote.Value,
		"timestamp":   vote.Timestamp,
	}
	return c.Send(ctx, response)
}

// decideVote applies the same lightweight acceptance heuristics the
// system this protocol is modeled on used: accept if required resources
// fit within what's available, accept if complexity is manageable,
// otherwise accept by default.
func decideVote(content map[string]interface{}) bool {
	if required, ok := numeric(content["resource_required"]); ok {
		available, hasAvailable := numeric(content["resource_available"])
		if !hasAvailable {
			available = 100
		}
		return required <= available
	}
	if complexity, ok := numeric(content["complexity"]); ok {
		return complexity < 0.8
	}
	return true
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func (c *Protocol) handleVote(ctx context.Context, msg *protocol.Message) error {
	data, _ := msg.Content["vote"].(map[string]interface{})
	proposalID, _ := data["proposal_id"].(string)

	c.mu.Lock()
	proposal, ok := c.proposals[proposalID]
	if !ok {
		c.mu.Unlock()
		c.Log.Warn().Str("event", "unknown_proposal_vote").Str("proposal_id", proposalID).Msg("vote for unknown proposal")
		return nil
	}

	value, _ := data["value"].(bool)
	vote := &Vote{VoterID: msg.Sender, ProposalID: proposalID, Value: value, Timestamp: time.Now()}
	proposal.AddVote(vote)
	c.maybeFinalizeLocked(proposal, vote)
	c.mu.Unlock()
	return nil
}

func (c *Protocol) handleResult(ctx context.Context, msg *protocol.Message) error {
	proposalID, _ := msg.Content["proposal_id"].(string)
	status, _ := msg.Content["status"].(string)

	c.mu.Lock()
	defer c.mu.Unlock()
	if proposal, ok := c.proposals[proposalID]; ok {
		proposal.Status = ProposalStatus(status)
	}
	return nil
}

func (c *Protocol) handleVoteRequest(ctx context.Context, msg *protocol.Message) error {
	requestTerm, _ := msg.Content["term"].(int)
	candidateID, _ := msg.Content["candidate_id"].(string)

	c.mu.Lock()
	grant := requestTerm > c.term
	if grant {
		c.term = requestTerm
		c.leaderID = ""
	}
	c.mu.Unlock()

	if !grant {
		return nil
	}

	response := protocol.NewMessage(protocol.MessageConsensus, c.NodeID)
	response.Target = candidateID
	response.Content["action"] = "vote_response"
	response.Content["term"] = requestTerm
	response.Content["vote_granted"] = true
	return c.Send(ctx, response)
}

func (c *Protocol) handleVoteResponse(ctx context.Context, msg *protocol.Message) error {
	term, _ := msg.Content["term"].(int)
	granted, _ := msg.Content["vote_granted"].(bool)
	if !granted {
		return nil
	}

	c.electionMu.Lock()
	defer c.electionMu.Unlock()
	if c.electionTerm == term {
		c.electionVotes[msg.Sender] = true
	}
	return nil
}

func (c *Protocol) handleLeaderHeartbeat(ctx context.Context, msg *protocol.Message) error {
	leaderID, _ := msg.Content["leader_id"].(string)
	term, _ := msg.Content["term"].(int)

	c.mu.Lock()
	if term >= c.term {
		c.term = term
		c.leaderID = leaderID
	}
	c.mu.Unlock()

	select {
	case c.heartbeatSeen <- struct{}{}:
	default:
	}
	return nil
}

func (c *Protocol) electionLoop(ctx context.Context) {
	defer c.wg.Done()
	timeout := randomElectionTimeout(c.cfg)
	lastHeartbeat := time.Now()
	var lastLeaderHeartbeat time.Time
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.heartbeatSeen:
			lastHeartbeat = time.Now()
		case <-ticker.C:
			c.mu.Lock()
			leader := c.leaderID
			c.mu.Unlock()

			if leader == c.NodeID {
				if time.Since(lastLeaderHeartbeat) >= c.cfg.HeartbeatInterval {
					c.sendLeaderHeartbeat(ctx)
					lastLeaderHeartbeat = time.Now()
				}
				continue
			}

			if leader == "" || time.Since(lastHeartbeat) > timeout {
				c.startElection(ctx)
				timeout = randomElectionTimeout(c.cfg)
				lastHeartbeat = time.Now()
			}
		}
	}
}

func randomElectionTimeout(cfg Config) time.Duration {
	lo, hi := cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// startElection requests votes from a snapshot of currently active nodes
// and declares itself leader only if it actually receives a majority of
// votes from that snapshot, including its own.
func (c *Protocol) startElection(ctx context.Context) {
	c.mu.Lock()
	c.term++
	term := c.term
	c.leaderID = ""
	c.mu.Unlock()

	active := c.ActiveNodes()
	total := len(active) + 1

	c.electionMu.Lock()
	c.electionTerm = term
	c.electionVotes = map[string]bool{c.NodeID: true}
	c.electionMu.Unlock()

	c.Log.Info().Str("event", "election_started").Int("term", term).Msg("starting leader election")

	req := protocol.NewMessage(protocol.MessageConsensus, c.NodeID)
	req.Content["action"] = "request_vote"
	req.Content["term"] = term
	req.Content["candidate_id"] = c.NodeID
	if err := c.Broadcast(ctx, req); err != nil {
		c.Log.Error().Err(err).Int("term", term).Msg("failed to broadcast vote request")
	}

	select {
	case <-time.After(c.cfg.ElectionTimeoutMin / 2):
	case <-ctx.Done():
		return
	}

	c.electionMu.Lock()
	votesReceived := len(c.electionVotes)
	sameTerm := c.electionTerm == term
	c.electionMu.Unlock()

	if !sameTerm || votesReceived <= total/2 {
		return
	}

	c.mu.Lock()
	won := c.term == term
	if won {
		c.leaderID = c.NodeID
	}
	c.mu.Unlock()

	if won {
		c.Log.Info().Str("event", "elected_leader").Int("term", term).Msg("elected as leader")
		c.sendLeaderHeartbeat(ctx)
	}
}

func (c *Protocol) sendLeaderHeartbeat(ctx context.Context) {
	c.mu.Lock()
	term := c.term
	c.mu.Unlock()

	hb := protocol.NewMessage(protocol.MessageConsensus, c.NodeID)
	hb.Content["action"] = "heartbeat"
	hb.Content["term"] = term
	hb.Content["leader_id"] = c.NodeID
	if err := c.Broadcast(ctx, hb); err != nil {
		c.Log.Error().Err(err).Msg("failed to broadcast leader heartbeat")
	}
}

// Stats summarizes current consensus state.
type Stats struct {
	Policy           string
	CurrentLeader    string
	CurrentTerm      int
	ActiveProposals  int
	TotalProposals   int
}

// Stats returns a snapshot of the protocol's leader/term/proposal state.
func (c *Protocol) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		Policy:         c.policy.Name(),
		CurrentLeader:  c.leaderID,
		CurrentTerm:    c.term,
		TotalProposals: len(c.proposals),
	}
	for _, p := range c.proposals {
		if p.Status == ProposalVoting {
			stats.ActiveProposals++
		}
	}
	return stats
}

var _ protocol.Protocol = (*Protocol)(nil)
