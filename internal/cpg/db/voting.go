package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

const electionColumns = `election_id, election_type, election_ref, ref_table_name, candidate_ref_table_name, sync_layer`

// CreateElection finds or creates the election for (type, ref, refTable),
// creating the election type when missing.
func (s *Store) CreateElection(ctx context.Context, electionType, ref, refTable, candidateRefTable string, layer int64) (*schema.Election, error) {
	var election *schema.Election
	err := s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.CreateElectionType(ctx, electionType, layer); err != nil {
			return err
		}
		_, err := tx.q.ExecContext(ctx,
			`INSERT INTO elections (`+electionColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(election_type, election_ref, ref_table_name) DO NOTHING`,
			newID(), electionType, ref, refTable, candidateRefTable, layer, tx.now())
		if err != nil {
			return fmt.Errorf("failed to create election: %w", err)
		}
		election, err = tx.GetElectionByRef(ctx, electionType, ref, refTable)
		return err
	})
	if err != nil {
		return nil, err
	}
	return election, nil
}

// GetElectionByID loads an election. It fails with NotFound if missing.
func (s *Store) GetElectionByID(ctx context.Context, id string) (*schema.Election, error) {
	e, err := s.scanElection(s.q.QueryRowContext(ctx,
		`SELECT `+electionColumns+` FROM elections WHERE election_id = ?`, id))
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, cpgerr.NotFound("election", id)
	}
	return e, nil
}

// GetElectionByRef returns the election for (type, ref, refTable), or nil.
func (s *Store) GetElectionByRef(ctx context.Context, electionType, ref, refTable string) (*schema.Election, error) {
	return s.scanElection(s.q.QueryRowContext(ctx,
		`SELECT `+electionColumns+` FROM elections
		WHERE election_type = ? AND election_ref = ? AND ref_table_name = ?`,
		electionType, ref, refTable))
}

func (s *Store) scanElection(row *sql.Row) (*schema.Election, error) {
	var e schema.Election
	err := row.Scan(&e.ID, &e.Type, &e.Ref, &e.RefTableName, &e.CandidateRefTableName, &e.SyncLayer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read election: %w", err)
	}
	return &e, nil
}

// AddCandidate finds or creates the candidate ref in an election. It fails
// with NotFound if the election is missing.
func (s *Store) AddCandidate(ctx context.Context, electionID, ref string, layer int64) (*schema.Candidate, error) {
	var candidate *schema.Candidate
	err := s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.GetElectionByID(ctx, electionID); err != nil {
			return err
		}
		_, err := tx.q.ExecContext(ctx,
			`INSERT INTO candidates (candidate_id, election_id, candidate_ref, sync_layer, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(election_id, candidate_ref) DO NOTHING`,
			newID(), electionID, ref, layer, tx.now())
		if err != nil {
			return fmt.Errorf("failed to add candidate %s: %w", ref, err)
		}
		candidate, err = tx.GetCandidateByRef(ctx, electionID, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

// GetCandidateByID loads a candidate. It fails with NotFound if missing.
func (s *Store) GetCandidateByID(ctx context.Context, id string) (*schema.Candidate, error) {
	c, err := scanCandidate(s.q.QueryRowContext(ctx,
		`SELECT candidate_id, election_id, candidate_ref, sync_layer FROM candidates WHERE candidate_id = ?`, id))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, cpgerr.NotFound("candidate", id)
	}
	return c, nil
}

// GetCandidateByRef returns the candidate ref in an election, or nil.
func (s *Store) GetCandidateByRef(ctx context.Context, electionID, ref string) (*schema.Candidate, error) {
	return scanCandidate(s.q.QueryRowContext(ctx,
		`SELECT candidate_id, election_id, candidate_ref, sync_layer FROM candidates
		WHERE election_id = ? AND candidate_ref = ?`, electionID, ref))
}

// ListCandidates returns the candidates of an election.
func (s *Store) ListCandidates(ctx context.Context, electionID string) ([]*schema.Candidate, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT candidate_id, election_id, candidate_ref, sync_layer FROM candidates
		WHERE election_id = ? ORDER BY candidate_ref, candidate_id`, electionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var out []*schema.Candidate
	for rows.Next() {
		var c schema.Candidate
		if err := rows.Scan(&c.ID, &c.ElectionID, &c.Ref, &c.SyncLayer); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}
	return out, nil
}

func scanCandidate(row *sql.Row) (*schema.Candidate, error) {
	var c schema.Candidate
	err := row.Scan(&c.ID, &c.ElectionID, &c.Ref, &c.SyncLayer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate: %w", err)
	}
	return &c, nil
}

// UpsertVote records userID's vote on a candidate. A nil vote withdraws it.
// Changing a vote restamps the row so the change is synced.
func (s *Store) UpsertVote(ctx context.Context, candidateID, userID string, vote *bool, layer int64) error {
	return s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.GetCandidateByID(ctx, candidateID); err != nil {
			return err
		}

		if vote == nil {
			_, err := tx.q.ExecContext(ctx,
				`DELETE FROM votes WHERE candidate_id = ? AND user_id = ?`, candidateID, userID)
			if err != nil {
				return fmt.Errorf("failed to withdraw vote: %w", err)
			}
			return nil
		}

		_, err := tx.q.ExecContext(ctx,
			`INSERT INTO votes (vote_id, candidate_id, user_id, vote, sync_layer, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(candidate_id, user_id) DO UPDATE SET
				vote = excluded.vote,
				sync_layer = excluded.sync_layer,
				updated_at = excluded.updated_at`,
			newID(), candidateID, userID, boolToInt(*vote), layer, tx.now())
		if err != nil {
			return fmt.Errorf("failed to record vote: %w", err)
		}
		return nil
	})
}

// GetVoteByRef returns userID's vote on a candidate, or nil.
func (s *Store) GetVoteByRef(ctx context.Context, candidateID, userID string) (*schema.Vote, error) {
	var (
		v  schema.Vote
		up int
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT vote_id, candidate_id, user_id, vote, sync_layer FROM votes
		WHERE candidate_id = ? AND user_id = ?`, candidateID, userID).
		Scan(&v.ID, &v.CandidateID, &v.UserID, &up, &v.SyncLayer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vote: %w", err)
	}
	v.Up = up != 0
	return &v, nil
}

// ListVotes returns every vote.
func (s *Store) ListVotes(ctx context.Context) ([]*schema.Vote, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT vote_id, candidate_id, user_id, vote, sync_layer FROM votes ORDER BY candidate_id, user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var out []*schema.Vote
	for rows.Next() {
		var (
			v  schema.Vote
			up int
		)
		if err := rows.Scan(&v.ID, &v.CandidateID, &v.UserID, &up, &v.SyncLayer); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		v.Up = up != 0
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}
	return out, nil
}

// GetVotesStats tallies a candidate's votes. A candidate without votes has
// zero counts.
func (s *Store) GetVotesStats(ctx context.Context, candidateID string) (*schema.VotesStats, error) {
	stats := &schema.VotesStats{CandidateID: candidateID}
	err := s.q.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN vote != 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN vote = 0 THEN 1 ELSE 0 END), 0)
		FROM votes WHERE candidate_id = ?`, candidateID).
		Scan(&stats.UpVotes, &stats.DownVotes)
	if err != nil {
		return nil, fmt.Errorf("failed to tally votes for %s: %w", candidateID, err)
	}
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
