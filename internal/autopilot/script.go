package autopilot

// ScanArea is the side-look script run periodically while cruising: turn off
// the course by angle, run probe, turn back and resume cruising.
func ScanArea(angle float64, probe Maneuver) []Maneuver {
	return []Maneuver{
		TurnTo(angle),
		probe,
		TurnTo(-angle),
		Resume(Cruising),
	}
}
