package domain

import "time"

// Side identifies one of the two complementary outcome tokens of a binary
// market.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Index returns the position of the side inside Market.TokenIDs.
func (s Side) Index() int {
	if s == SideDown {
		return 1
	}
	return 0
}

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideDown {
		return SideUp
	}
	return SideDown
}

// Market is a fixed-duration binary contract discovered from the venue.
// It is immutable once discovered.
type Market struct {
	ID       string // condition id
	Asset    string // underlying symbol, e.g. "BTC"
	Question string
	Slug     string
	TokenIDs [2]string // [UP, DOWN] CLOB token ids
	EndTime  time.Time
}

// Token returns the token id for the given side.
func (m Market) Token(s Side) string {
	return m.TokenIDs[s.Index()]
}

// TimeLeft returns the remaining lifetime of the contract at now. It is
// negative once the market has ended.
func (m Market) TimeLeft(now time.Time) time.Duration {
	return m.EndTime.Sub(now)
}

// Expired reports whether the contract end time has been reached.
func (m Market) Expired(now time.Time) bool {
	return !m.EndTime.After(now)
}
