package schema

// Election puts a referenced row up for a crowd vote.
type Election struct {
	ID                    string `json:"election_id"`
	Type                  string `json:"election_type"`
	Ref                   string `json:"election_ref"`
	RefTableName          string `json:"ref_table_name"`
	CandidateRefTableName string `json:"candidate_ref_table_name"`
	SyncLayer             int64  `json:"sync_layer"`
}

// Candidate is one option in an election.
type Candidate struct {
	ID         string `json:"candidate_id"`
	ElectionID string `json:"election_id"`
	Ref        string `json:"candidate_ref"`
	SyncLayer  int64  `json:"sync_layer"`
}

// Vote is one user's up or down vote on a candidate.
type Vote struct {
	ID          string `json:"vote_id"`
	CandidateID string `json:"candidate_id"`
	UserID      string `json:"user_id"`
	Up          bool   `json:"vote"`
	SyncLayer   int64  `json:"sync_layer"`
}

// VotesStats tallies the votes on one candidate.
type VotesStats struct {
	CandidateID string `json:"candidateId"`
	UpVotes     int    `json:"upVotes"`
	DownVotes   int    `json:"downVotes"`
}

// Election types.
const (
	ElectionTypeTranslation = "translation"
	ElectionTypeDefinition  = "definition"
	ElectionTypeSiteText    = "site-text"
)
