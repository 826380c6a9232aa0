package detection

// Zone is a rectangular patrol sector of the reserve with inclusive bounds.
type Zone struct {
	ID     string
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether the coordinate lies inside the zone, edges included.
func (z Zone) Contains(lat, lon float64) bool {
	return lat >= z.MinLat && lat <= z.MaxLat && lon >= z.MinLon && lon <= z.MaxLon
}

// Zones are the reserve's patrol sectors in lookup order.
var Zones = []Zone{
	{"Z01", -22.15, -22.10, 32.30, 32.35},
	{"Z02", -22.15, -22.10, 32.15, 32.20},
	{"Z03", -22.10, -22.05, 32.30, 32.35},
	{"Z04", -22.10, -22.05, 32.15, 32.20},
	{"Z05", -22.05, -22.00, 32.30, 32.35},
	{"Z06", -22.05, -22.00, 32.15, 32.20},
	{"Z07", -21.2, -21.1, 31.6, 31.7},
	{"Z08", -21.1, -21.0, 31.7, 31.8},
	{"Z09", -21.0, -20.9, 31.8, 31.9},
	{"Z10", -20.9, -20.8, 31.9, 32.0},
}

// ZoneFor returns the first zone containing the coordinate, or "" when none does.
func ZoneFor(lat, lon float64) string {
	for _, z := range Zones {
		if z.Contains(lat, lon) {
			return z.ID
		}
	}
	return ""
}
