// Package voting runs crowd elections over graph entities: an election
// references a row, candidates reference rows, users vote each candidate
// up or down.
package voting

import (
	"context"
	"strings"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/graph"
	"github.com/etenlab/core/internal/cpg/schema"
)

// Service is the voting API. Writes are stamped with the current sync layer.
type Service struct {
	store  *db.Store
	layers graph.LayerSource
}

// NewService creates a voting service over store.
func NewService(store *db.Store, layers graph.LayerSource) *Service {
	if layers == nil {
		layers = graph.FixedLayer(0)
	}
	return &Service{store: store, layers: layers}
}

// CreateElection returns the election for (electionType, ref, refTable),
// creating it if needed.
func (s *Service) CreateElection(ctx context.Context, electionType, ref, refTable, candidateRefTable string) (*schema.Election, error) {
	if strings.TrimSpace(ref) == "" || strings.TrimSpace(refTable) == "" {
		return nil, cpgerr.Validation("election ref and ref table are required")
	}
	layer, release := graph.HoldLayer(s.layers)
	defer release()
	return s.store.CreateElection(ctx, electionType, ref, refTable, candidateRefTable, layer)
}

func (s *Service) GetElectionByID(ctx context.Context, id string) (*schema.Election, error) {
	return s.store.GetElectionByID(ctx, id)
}

// GetElectionByRef returns nil when no such election exists.
func (s *Service) GetElectionByRef(ctx context.Context, electionType, ref, refTable string) (*schema.Election, error) {
	return s.store.GetElectionByRef(ctx, electionType, ref, refTable)
}

// GetElectionFull tallies every candidate of an election, in candidate
// order. It fails with NotFound if the election does not exist.
func (s *Service) GetElectionFull(ctx context.Context, electionID string) ([]*schema.VotesStats, error) {
	if _, err := s.store.GetElectionByID(ctx, electionID); err != nil {
		return nil, err
	}
	candidates, err := s.store.ListCandidates(ctx, electionID)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.VotesStats, 0, len(candidates))
	for _, c := range candidates {
		stats, err := s.store.GetVotesStats(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// AddCandidate returns the candidate for ref in the election, creating it if
// needed.
func (s *Service) AddCandidate(ctx context.Context, electionID, ref string) (*schema.Candidate, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, cpgerr.Validation("candidate ref is required")
	}
	layer, release := graph.HoldLayer(s.layers)
	defer release()
	return s.store.AddCandidate(ctx, electionID, ref, layer)
}

func (s *Service) GetCandidateByID(ctx context.Context, id string) (*schema.Candidate, error) {
	return s.store.GetCandidateByID(ctx, id)
}

// GetCandidateByRef returns nil when the election has no such candidate.
func (s *Service) GetCandidateByRef(ctx context.Context, electionID, ref string) (*schema.Candidate, error) {
	return s.store.GetCandidateByRef(ctx, electionID, ref)
}

func (s *Service) GetVotesStats(ctx context.Context, candidateID string) (*schema.VotesStats, error) {
	return s.store.GetVotesStats(ctx, candidateID)
}

// AddVote records a vote; nil withdraws userID's vote.
func (s *Service) AddVote(ctx context.Context, candidateID, userID string, vote *bool) error {
	if strings.TrimSpace(userID) == "" {
		return cpgerr.Validation("user id is required")
	}
	layer, release := graph.HoldLayer(s.layers)
	defer release()
	return s.store.UpsertVote(ctx, candidateID, userID, vote, layer)
}

// GetVoteByRef returns nil when userID has not voted on the candidate.
func (s *Service) GetVoteByRef(ctx context.Context, candidateID, userID string) (*schema.Vote, error) {
	return s.store.GetVoteByRef(ctx, candidateID, userID)
}

func (s *Service) ListVotes(ctx context.Context) ([]*schema.Vote, error) {
	return s.store.ListVotes(ctx)
}

func (s *Service) ListCandidates(ctx context.Context, electionID string) ([]*schema.Candidate, error) {
	return s.store.ListCandidates(ctx, electionID)
}
