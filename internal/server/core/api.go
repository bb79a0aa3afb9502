package core

// Request types

type CompetitorConfig struct {
	Name          string `json:"name" validate:"required,min=1,max=64"`
	TokenAddress  string `json:"tokenAddress" validate:"required,eth_addr"`
	TokenDecimals *int   `json:"tokenDecimals" validate:"required,min=0,max=18"`
}

type CreateGameRequest struct {
	Competitors        []CompetitorConfig `json:"competitors" validate:"required,len=2,dive"`
	TurnTimeoutMinutes int                `json:"turnTimeoutMinutes" validate:"required,min=5,max=43200"`
}

type VoteRequest struct {
	Move      string `json:"move" validate:"required,min=2,max=10"` // UCI (e2e4) or SAN (Nf3)
	Address   string `json:"address" validate:"required,eth_addr"`
	Signature string `json:"signature" validate:"required,max=256"`
}

// Response types

type VotingPowerResponse struct {
	GameID        string `json:"gameId"`
	Address       string `json:"address"`
	Side          Side   `json:"side"`
	TokenAddress  string `json:"tokenAddress"`
	SnapshotBlock uint64 `json:"snapshotBlock"`
	VotingPower   string `json:"votingPower"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
