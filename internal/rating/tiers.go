package rating

// Tier thresholds. Master is open-ended and has no divisions.
var tierBands = []struct {
	name string
	min  int
	max  int
}{
	{"Bronze", 0, 1000},
	{"Silver", 1000, 1200},
	{"Gold", 1200, 1400},
	{"Platinum", 1400, 1600},
	{"Diamond", 1600, 1800},
}

// TierFor maps an MMR onto a tier and division. Divisions split each
// band into thirds: III low, II mid, I high.
func TierFor(mmr int) (tier, division string) {
	if mmr < 0 {
		mmr = 0
	}
	for _, band := range tierBands {
		if mmr >= band.max {
			continue
		}
		third := (band.max - band.min) / 3
		switch {
		case mmr < band.min+third:
			return band.name, "III"
		case mmr < band.min+2*third:
			return band.name, "II"
		default:
			return band.name, "I"
		}
	}
	return "Master", ""
}
