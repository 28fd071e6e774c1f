package cycle

// Status is a copy of the controller state for readers outside the tick
// (web API, display).
type Status struct {
	State     string    `json:"state"`
	Mode      string    `json:"mode"` // committed mode
	CycleType string    `json:"cycle_type"`
	Elapsed   float64   `json:"elapsed"`
	Reference float64   `json:"reference"`
	Command   float64   `json:"command"`
	Cycles    int       `json:"cycles"`
	LastEnd   EndReason `json:"last_end,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Parked    bool      `json:"parked,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Trigger   bool      `json:"trigger"`
}

// Status returns the snapshot taken at the end of the last tick. Safe to call
// from any goroutine.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Controller) publishStatus() {
	st := Status{
		State:     c.state.String(),
		Mode:      c.committed.String(),
		CycleType: c.params.cycleType().String(),
		Reference: c.lastRef,
		Command:   c.lastCmd,
		Cycles:    c.cycles,
		LastEnd:   c.lastEnd,
		Unit:      c.committed.Unit(),
		Trigger:   c.prevTrigger,
	}
	if s := c.session; s != nil {
		st.Elapsed = s.Elapsed
		st.SessionID = s.ID.String()
		st.Parked = s.parked
	}

	c.statusMu.Lock()
	c.status = st
	c.statusMu.Unlock()
}
