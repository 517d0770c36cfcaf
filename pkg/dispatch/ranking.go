package dispatch

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/geo"
)

// Candidate is a courier eligible for an offer.
type Candidate struct {
	CourierID  string
	DistanceKm float64
	Location   geo.Point
}

// RankCandidates keeps couriers within radiusKm of pickup that are not in exclude,
// orders them nearest first with ties broken by courier id, and caps the result at limit.
func RankCandidates(pickup geo.Point, couriers []Presence, radiusKm float64, exclude map[string]bool, limit int) []Candidate {
	candidates := make([]Candidate, 0, len(couriers))
	for _, courier := range couriers {
		if exclude[courier.CourierID] {
			continue
		}
		if courier.Location.Validate() != nil {
			continue
		}
		distance := pickup.DistanceTo(courier.Location)
		if distance > radiusKm {
			continue
		}
		candidates = append(candidates, Candidate{CourierID: courier.CourierID, DistanceKm: distance, Location: courier.Location})
	}
	sort.Slice(candidates, func(left, right int) bool {
		if candidates[left].DistanceKm != candidates[right].DistanceKm {
			return candidates[left].DistanceKm < candidates[right].DistanceKm
		}
		return candidates[left].CourierID < candidates[right].CourierID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// GenerateDispatchCode returns a uniformly random zero-padded six digit code.
func GenerateDispatchCode() (string, error) {
	upperBound := big.NewInt(1_000_000)
	value, err := rand.Int(rand.Reader, upperBound)
	if err != nil {
		return "", fmt.Errorf("generate dispatch code: %w", err)
	}
	return fmt.Sprintf("%0*d", dispatchCodeDigits, value.Int64()), nil
}
