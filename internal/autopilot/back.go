package autopilot

func enterBack(c *Controller, m Maneuver) int {
	if m.Ticks > 0 {
		return m.Ticks
	}
	return c.cfg.BackTicks
}

// tickBack reverses until the obstacle sits at or beyond the current
// threshold or the backing budget is spent.
func tickBack(c *Controller, in SensorSnapshot) Outcome {
	d, _ := in.Range()
	if d >= c.threshold.Value() || c.step >= c.stepLimit {
		return Done()
	}
	return Emit(Command{Speed: -c.cfg.BackSpeed})
}
