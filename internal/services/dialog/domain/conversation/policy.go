package conversation

// Policy holds the configurable membership rules.
type Policy struct {
	// RequireUser rejects conversations started without a human participant.
	RequireUser bool
	// RequireAgent rejects conversations started without an agent.
	RequireAgent bool
	// MaxParticipants caps membership; zero means unlimited.
	MaxParticipants int
}

// DefaultPolicy requires at least one user and no agent.
func DefaultPolicy() Policy {
	return Policy{RequireUser: true}
}
