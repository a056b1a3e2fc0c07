package run

// Delta is the output of one agent unit execution: only the fields the
// unit's responsibility owns are populated. The topology driver applies
// deltas atomically between steps, so no unit ever observes a partially
// committed mutation and no unit can touch fields outside its ownership.
type Delta struct {
	AgentID  string    `json:"agent_id"`
	Messages []Message `json:"messages,omitempty"`

	// Context is the research unit's output. nil means untouched; non-nil
	// replaces the retrieved context, or extends it when AccumulateContext
	// is set (a topology decision for research revisits, not a unit one).
	Context           []SourceRecord `json:"context,omitempty"`
	AccumulateContext bool           `json:"accumulate_context,omitempty"`

	Analysis *string `json:"analysis,omitempty"`
	Draft    *string `json:"draft,omitempty"`
	Feedback *string `json:"feedback,omitempty"`

	Scores map[string]float64 `json:"scores,omitempty"`

	// Complete and NeedsMore express a critique evaluation. When either is
	// non-nil the pair is treated as one fresh evaluation; if both end up
	// true, completion wins and the run terminates.
	Complete  *bool `json:"complete,omitempty"`
	NeedsMore *bool `json:"needs_more,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// Apply commits a delta to the state. Iteration counting is not part of any
// delta; the driver advances the counter itself at loop boundaries.
func (s *State) Apply(d Delta) {
	if d.AgentID != "" {
		s.CurrentAgent = d.AgentID
	}
	if len(d.Messages) > 0 {
		s.Messages = append(s.Messages, d.Messages...)
	}
	if d.Context != nil {
		if d.AccumulateContext {
			s.RetrievedContext = append(s.RetrievedContext, d.Context...)
		} else {
			s.RetrievedContext = d.Context
		}
	}
	if d.Analysis != nil {
		s.Analysis = *d.Analysis
	}
	if d.Draft != nil {
		s.Draft = *d.Draft
	}
	if d.Feedback != nil {
		s.Feedback = *d.Feedback
	}
	if len(d.Scores) > 0 {
		if s.Scores == nil {
			s.Scores = make(map[string]float64, len(d.Scores))
		}
		for dim, v := range d.Scores {
			s.Scores[dim] = v
		}
	}
	if d.Complete != nil || d.NeedsMore != nil {
		complete := d.Complete != nil && *d.Complete
		needsMore := d.NeedsMore != nil && *d.NeedsMore
		// One evaluation sets at most one flag; completion is the
		// terminating tie-break.
		if complete {
			needsMore = false
		}
		s.IsComplete = complete
		s.NeedsMoreData = needsMore
	}
	for _, w := range d.Warnings {
		s.Warn(w)
	}
}

// BoolPtr is a small helper for building deltas.
func BoolPtr(b bool) *bool { return &b }

// StrPtr is a small helper for building deltas.
func StrPtr(v string) *string { return &v }
