package autopilot

import "math"

// TurnTicks is the number of ticks a turn of angle degrees takes at the
// configured turn rate.
func (c Config) TurnTicks(angle float64) int {
	return int(math.Round(float64(c.FullRotationTicks) * math.Abs(angle) / 360))
}

func enterTurn(c *Controller, m Maneuver) int {
	c.turnDirection = 1
	if m.Angle < 0 {
		c.turnDirection = -1
	}
	return c.cfg.TurnTicks(m.Angle)
}

func tickTurn(c *Controller, _ SensorSnapshot) Outcome {
	if c.step >= c.stepLimit {
		return Done()
	}
	return Emit(Command{Angle: c.cfg.TurnRate * c.turnDirection})
}
