package export_test

import (
	"errors"
	"testing"

	"github.com/c360studio/semreq/export"
	"github.com/c360studio/semreq/requirement"
	"github.com/c360studio/semreq/workflow"
)

func TestGetProfileConfig(t *testing.T) {
	tests := []struct {
		profile      export.Profile
		wantRegister workflow.Register
	}{
		{export.ProfileRequirements, ""},
		{export.ProfileLexicon, workflow.RegisterLexicon},
		{export.ProfileModel, workflow.RegisterModel},
	}

	for _, tc := range tests {
		t.Run(string(tc.profile), func(t *testing.T) {
			config, err := export.GetProfileConfig(tc.profile)
			if err != nil {
				t.Fatalf("GetProfileConfig() error = %v", err)
			}
			if config.Register != tc.wantRegister {
				t.Errorf("Register = %q, want %q", config.Register, tc.wantRegister)
			}
			if config.Description == "" {
				t.Error("Description is empty")
			}
		})
	}
}

func TestGetProfileConfigUnknown(t *testing.T) {
	_, err := export.GetProfileConfig("xlsx")
	if !errors.Is(err, export.ErrUnknownProfile) {
		t.Errorf("expected ErrUnknownProfile, got %v", err)
	}
}

func TestRequirementRows(t *testing.T) {
	entity := "Facility"
	r := requirement.Requirement{
		ID: "3", TermLabel: "Drawn Amount", Definition: "Amount drawn", Domain: "Credits",
		Entity: "Exposure", Attribute: "drawn_amt", IsCDE: true, MatchState: requirement.MatchReview,
	}
	rows := export.RequirementRows([]requirement.Classified{
		requirement.Classify(r, requirement.Override{Entity: &entity}),
	})

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	want := export.Row{
		ID: "3", Label: "Drawn Amount", Status: "review", Definition: "Amount drawn",
		Domain: "Credits", CDE: true, Entity: "Facility", Attribute: "drawn_amt",
	}
	if rows[0] != want {
		t.Errorf("row = %+v, want %+v", rows[0], want)
	}
}

func TestGovernanceRows(t *testing.T) {
	items := []workflow.Item{{
		Key:       workflow.Key{UseCaseID: "uc", RequirementID: "9"},
		Register:  workflow.RegisterLexicon,
		Status:    workflow.StatusUnderReview,
		TermLabel: "Cure Date",
		Domain:    "Consumer",
	}}
	rows := export.GovernanceRows(items)
	if len(rows) != 1 || rows[0].Status != "under_review" || rows[0].ID != "9" || rows[0].Label != "Cure Date" {
		t.Errorf("unexpected rows %+v", rows)
	}

	if got := export.GovernanceRows(nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil rows, got %#v", got)
	}
}
