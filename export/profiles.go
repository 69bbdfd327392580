// Package export projects engine state into flat rows for the export
// collaborator. Rows are plain records; file formats are not produced here.
package export

import (
	"errors"
	"fmt"

	"github.com/c360studio/semreq/requirement"
	"github.com/c360studio/semreq/workflow"
)

// Profile selects which rows an export contains.
type Profile string

const (
	// ProfileRequirements lists every requirement with its match state.
	ProfileRequirements Profile = "requirements"

	// ProfileLexicon lists the lexicon governance items.
	ProfileLexicon Profile = "lexicon"

	// ProfileModel lists the model governance items.
	ProfileModel Profile = "model"
)

// ErrUnknownProfile is returned for a profile outside Profiles.
var ErrUnknownProfile = errors.New("unknown export profile")

// ProfileConfig describes an export profile.
type ProfileConfig struct {
	// Name is the profile identifier.
	Name Profile

	// Description describes the profile.
	Description string

	// Register is the governance register read by the profile, empty for
	// the requirements profile.
	Register workflow.Register
}

// Profiles contains the configuration for all available export profiles.
var Profiles = map[Profile]ProfileConfig{
	ProfileRequirements: {
		Name:        ProfileRequirements,
		Description: "All requirements with match state and effective mapping",
	},
	ProfileLexicon: {
		Name:        ProfileLexicon,
		Description: "Proposed lexicon terms and their approval status",
		Register:    workflow.RegisterLexicon,
	},
	ProfileModel: {
		Name:        ProfileModel,
		Description: "Proposed model attributes and their approval status",
		Register:    workflow.RegisterModel,
	},
}

// GetProfileConfig returns the configuration for a profile.
func GetProfileConfig(profile Profile) (ProfileConfig, error) {
	config, ok := Profiles[profile]
	if !ok {
		return ProfileConfig{}, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	return config, nil
}

// Row is one exported record.
type Row struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Status     string `json:"status"`
	Definition string `json:"definition"`
	Domain     string `json:"domain"`
	CDE        bool   `json:"cde"`
	Entity     string `json:"entity"`
	Attribute  string `json:"attribute"`
}

// RequirementRows projects classified requirements. Status is the match
// state; entity and attribute are the effective values after overrides.
func RequirementRows(reqs []requirement.Classified) []Row {
	rows := make([]Row, 0, len(reqs))
	for _, c := range reqs {
		rows = append(rows, Row{
			ID:         c.Requirement.ID,
			Label:      c.Requirement.TermLabel,
			Status:     c.MatchState.String(),
			Definition: c.Requirement.Definition,
			Domain:     c.Requirement.Domain,
			CDE:        c.IsCDE,
			Entity:     c.EffectiveEntity,
			Attribute:  c.EffectiveAttribute,
		})
	}
	return rows
}

// GovernanceRows projects governance items. Status is the workflow status.
func GovernanceRows(items []workflow.Item) []Row {
	rows := make([]Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, Row{
			ID:         it.RequirementID,
			Label:      it.TermLabel,
			Status:     it.Status.String(),
			Definition: it.Definition,
			Domain:     it.Domain,
			CDE:        it.IsCDE,
			Entity:     it.Entity,
			Attribute:  it.Attribute,
		})
	}
	return rows
}
