package requirement

// Classified is the read-projection of a requirement: its fixed match state,
// its current CDE flag and alignment, and the mapping after overrides.
type Classified struct {
	Requirement Requirement `json:"requirement"`

	MatchState       MatchState       `json:"match_state"`
	IsCDE            bool             `json:"is_cde"`
	LexiconAlignment LexiconAlignment `json:"lexicon_alignment,omitempty"`

	EffectiveEntity    string `json:"effective_entity"`
	EffectiveAttribute string `json:"effective_attribute"`
	Overridden         bool   `json:"overridden"`
}

// Classify derives the classification of r under override o. It is pure: the
// same inputs always give the same result and nothing is written back.
func Classify(r Requirement, o Override) Classified {
	return Classified{
		Requirement:        r,
		MatchState:         r.MatchState,
		IsCDE:              r.IsCDE,
		LexiconAlignment:   r.LexiconAlignment,
		EffectiveEntity:    EffectiveEntity(r, o),
		EffectiveAttribute: EffectiveAttribute(r, o),
		Overridden:         !o.IsEmpty(),
	}
}

// EffectiveEntity returns o.Entity when set, else r.Entity.
func EffectiveEntity(r Requirement, o Override) string {
	if o.Entity != nil {
		return *o.Entity
	}
	return r.Entity
}

// EffectiveAttribute returns o.Attribute when set, else r.Attribute.
func EffectiveAttribute(r Requirement, o Override) string {
	if o.Attribute != nil {
		return *o.Attribute
	}
	return r.Attribute
}

// IsNewCDE reports a critical data element that has no lexicon term yet.
func (c Classified) IsNewCDE() bool {
	return c.IsCDE && c.MatchState == MatchNew
}

func (o Override) clone() Override {
	var out Override
	if o.Entity != nil {
		v := *o.Entity
		out.Entity = &v
	}
	if o.Attribute != nil {
		v := *o.Attribute
		out.Attribute = &v
	}
	return out
}
