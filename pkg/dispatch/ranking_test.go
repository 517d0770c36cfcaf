package dispatch

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/geo"
)

var pickupPoint = geo.Point{Lat: 40.7128, Lon: -74.0060}

func courierAt(courierID string, latOffset float64) Presence {
	return Presence{
		CourierID: courierID,
		Online:    true,
		Location:  geo.Point{Lat: pickupPoint.Lat + latOffset, Lon: pickupPoint.Lon},
	}
}

func TestRankCandidatesOrdersByDistanceThenID(test *testing.T) {
	test.Parallel()
	couriers := []Presence{
		courierAt("far", 0.063),
		courierAt("zeta", 0.009),
		courierAt("alpha", 0.009),
		courierAt("near", 0.0045),
		courierAt("outside", 0.2),
	}
	candidates := RankCandidates(pickupPoint, couriers, 10, nil, 0)
	got := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		got = append(got, candidate.CourierID)
	}
	want := []string{"near", "alpha", "zeta", "far"}
	if len(got) != len(want) {
		test.Fatalf("expected %v, got %v", want, got)
	}
	for index := range want {
		if got[index] != want[index] {
			test.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRankCandidatesHonoursExcludeRadiusAndLimit(test *testing.T) {
	test.Parallel()
	couriers := []Presence{
		courierAt("a", 0.001),
		courierAt("b", 0.002),
		courierAt("c", 0.003),
		courierAt("d", 0.063),
		{CourierID: "broken", Online: true, Location: geo.Point{Lat: 123, Lon: 0}},
	}
	testCases := []struct {
		name     string
		radiusKm float64
		exclude  map[string]bool
		limit    int
		want     []string
	}{
		{name: "radius", radiusKm: 5, want: []string{"a", "b", "c"}},
		{name: "exclude", radiusKm: 5, exclude: map[string]bool{"a": true}, want: []string{"b", "c"}},
		{name: "limit", radiusKm: 10, limit: 2, want: []string{"a", "b"}},
		{name: "none in range", radiusKm: 0.01, want: nil},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			candidates := RankCandidates(pickupPoint, couriers, testCase.radiusKm, testCase.exclude, testCase.limit)
			if len(candidates) != len(testCase.want) {
				test.Fatalf("expected %v, got %+v", testCase.want, candidates)
			}
			for index, candidate := range candidates {
				if candidate.CourierID != testCase.want[index] {
					test.Fatalf("expected %v, got %+v", testCase.want, candidates)
				}
				if candidate.DistanceKm > testCase.radiusKm {
					test.Fatalf("candidate %s outside radius: %.3f", candidate.CourierID, candidate.DistanceKm)
				}
			}
		})
	}
}

func TestGenerateDispatchCodeIsSixDigits(test *testing.T) {
	test.Parallel()
	pattern := regexp.MustCompile(`^[0-9]{6}$`)
	for attempt := 0; attempt < 50; attempt++ {
		code, err := GenerateDispatchCode()
		if err != nil {
			test.Fatalf("generate: %v", err)
		}
		if !pattern.MatchString(code) {
			test.Fatalf("unexpected code %q", code)
		}
	}
}

func TestPolicyValidate(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		mutate func(policy *Policy)
		valid  bool
	}{
		{name: "default", mutate: func(*Policy) {}, valid: true},
		{name: "no tiers", mutate: func(policy *Policy) { policy.RadiusTiersKm = nil }},
		{name: "descending tiers", mutate: func(policy *Policy) { policy.RadiusTiersKm = []float64{10, 5} }},
		{name: "zero interval", mutate: func(policy *Policy) { policy.ExpansionInterval = 0 }},
		{name: "zero fan-out", mutate: func(policy *Policy) { policy.FanOut = 0 }},
		{name: "zero freshness", mutate: func(policy *Policy) { policy.LocationFreshness = -time.Second }},
		{name: "zero speed", mutate: func(policy *Policy) { policy.SpeedKmh = 0 }},
	}
	for _, testCase := range testCases {
		policy := DefaultPolicy()
		testCase.mutate(&policy)
		err := policy.Validate()
		if testCase.valid && err != nil {
			test.Fatalf("%s: unexpected error %v", testCase.name, err)
		}
		if !testCase.valid && !errors.Is(err, ErrInvalidPolicy) {
			test.Fatalf("%s: expected invalid policy, got %v", testCase.name, err)
		}
	}
}

func TestPolicyRadiusClampsTier(test *testing.T) {
	test.Parallel()
	policy := DefaultPolicy()
	testCases := []struct {
		tier int
		want float64
	}{
		{tier: -1, want: 5},
		{tier: 0, want: 5},
		{tier: 1, want: 10},
		{tier: 2, want: 15},
		{tier: 7, want: 15},
	}
	for _, testCase := range testCases {
		if got := policy.RadiusKm(testCase.tier); got != testCase.want {
			test.Fatalf("tier %d: expected %.0f, got %.0f", testCase.tier, testCase.want, got)
		}
	}
	if policy.MaxTier() != 2 {
		test.Fatalf("expected max tier 2, got %d", policy.MaxTier())
	}
}

func TestPresenceFresh(test *testing.T) {
	test.Parallel()
	reported := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)
	presence := Presence{CourierID: "c", LastLocationUpdate: reported}
	if !presence.Fresh(reported) {
		test.Fatalf("expected fresh at cutoff")
	}
	if presence.Fresh(reported.Add(time.Second)) {
		test.Fatalf("expected stale after cutoff")
	}
}

func TestParseState(test *testing.T) {
	test.Parallel()
	if state, err := ParseState(" assigned "); err != nil || state != StateAssigned {
		test.Fatalf("expected assigned, got %q (%v)", state, err)
	}
	if _, err := ParseState("lost"); !errors.Is(err, ErrInvalidState) {
		test.Fatalf("expected invalid state, got %v", err)
	}
}
