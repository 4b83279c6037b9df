package consensus

import "time"

// ProposalStatus is the lifecycle state of a Proposal.
type ProposalStatus string

const (
	ProposalProposed ProposalStatus = "proposed"
	ProposalVoting    ProposalStatus = "voting"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalExpired   ProposalStatus = "expired"
)

// Vote is a single node's accept/reject decision on a Proposal.
type Vote struct {
	VoterID    string
	ProposalID string
	Value      bool
	Timestamp  time.Time
}

// Proposal is a value under consideration for consensus.
type Proposal struct {
	ID         string
	ProposerID string
	Content    map[string]interface{}
	Status     ProposalStatus
	Votes      map[string]*Vote
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// AddVote records voter's vote, overwriting any previous vote from the same
// voter (a node only ever has one live vote per proposal).
func (p *Proposal) AddVote(v *Vote) {
	p.Votes[v.VoterID] = v
}

// VoteCount returns the number of accept and reject votes recorded so far.
func (p *Proposal) VoteCount() (accept, reject int) {
	for _, v := range p.Votes {
		if v.Value {
			accept++
		} else {
			reject++
		}
	}
	return accept, reject
}

// IsExpired reports whether the proposal's deadline has passed.
func (p *Proposal) IsExpired() bool {
	return !p.ExpiresAt.IsZero() && time.Now().After(p.ExpiresAt)
}

func serializeProposal(p *Proposal) map[string]interface{} {
	return map[string]interface{}{
		"id":          p.ID,
		"proposer_id": p.ProposerID,
		"content":     p.Content,
		"created_at":  p.CreatedAt,
		"expires_at":  p.ExpiresAt,
	}
}

func deserializeProposal(data map[string]interface{}) *Proposal {
	p := &Proposal{
		Votes: make(map[string]*Vote),
	}
	if id, ok := data["id"].(string); ok {
		p.ID = id
	}
	if proposerID, ok := data["proposer_id"].(string); ok {
		p.ProposerID = proposerID
	}
	if content, ok := data["content"].(map[string]interface{}); ok {
		p.Content = content
	} else {
		p.Content = make(map[string]interface{})
	}
	if createdAt, ok := data["created_at"].(time.Time); ok {
		p.CreatedAt = createdAt
	}
	if expiresAt, ok := data["expires_at"].(time.Time); ok {
		p.ExpiresAt = expiresAt
	}
	return p
}
