package match

import "github.com/tsubute/queenfall/internal/domain"

// AssignColors maps two participant identities to colors: the
// lexicographically smaller identity plays white (moves first). The function
// is pure and order-independent, so both ends of a peer-to-peer session
// compute the identical mapping from the two identities alone, without a
// trusted arbiter.
func AssignColors(a, b string) (colorOfA, colorOfB domain.Color) {
	if a < b {
		return domain.White, domain.Black
	}
	return domain.Black, domain.White
}
