// Package workflow provides the governance workflow for newly proposed
// lexicon terms and model attributes. Every requirement classified new gets
// one item per register, and items move through a fixed approval lifecycle.
package workflow

import (
	"time"
)

// Status represents the current state of a governance item.
type Status string

const (
	// StatusDraft indicates the proposal exists but has not been submitted.
	StatusDraft Status = "draft"
	// StatusSubmitted indicates the proposal awaits a reviewer.
	StatusSubmitted Status = "submitted"
	// StatusUnderReview indicates a reviewer is assessing the proposal.
	StatusUnderReview Status = "under_review"
	// StatusApproved indicates the proposal was accepted but not yet published.
	StatusApproved Status = "approved"
	// StatusPublished indicates the term or attribute is in the register.
	StatusPublished Status = "published"
	// StatusRejected indicates the reviewer sent the proposal back.
	StatusRejected Status = "rejected"
)

// AllStatuses lists every status in pipeline order, rejected last.
var AllStatuses = []Status{
	StatusDraft, StatusSubmitted, StatusUnderReview, StatusApproved, StatusPublished, StatusRejected,
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a valid workflow status.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview,
		StatusApproved, StatusPublished, StatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once no further action is possible.
// Rejected is not terminal: it can be revised back to draft.
func (s Status) IsTerminal() bool {
	return s == StatusPublished
}

// CanTransitionTo returns true if the status can transition to the target status.
func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Next returns the status reached by applying action, and false when the
// action is not allowed from s.
func (s Status) Next(action Action) (Status, bool) {
	next, ok := transitions[s][action]
	return next, ok
}

// Actions returns the actions allowed from s.
func (s Status) Actions() []Action {
	out := make([]Action, 0, 2)
	for _, a := range AllActions {
		if _, ok := transitions[s][a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Action is a workflow command applied to an item.
type Action string

const (
	ActionSubmit      Action = "submit"
	ActionStartReview Action = "start_review"
	ActionApprove     Action = "approve"
	ActionPublish     Action = "publish"
	ActionReject      Action = "reject"
	ActionRevise      Action = "revise"
)

// AllActions lists every action.
var AllActions = []Action{
	ActionSubmit, ActionStartReview, ActionApprove, ActionPublish, ActionReject, ActionRevise,
}

// IsValid returns true for a known action.
func (a Action) IsValid() bool {
	_, ok := actionTargets[a]
	return ok
}

// Target returns the status the action leads to when it is allowed.
func (a Action) Target() Status {
	return actionTargets[a]
}

// Event returns the audit event name recorded for the action.
func (a Action) Event() string {
	return actionEvents[a]
}

var transitions = map[Status]map[Action]Status{
	StatusDraft:       {ActionSubmit: StatusSubmitted},
	StatusSubmitted:   {ActionStartReview: StatusUnderReview},
	StatusUnderReview: {ActionApprove: StatusApproved, ActionReject: StatusRejected},
	StatusApproved:    {ActionPublish: StatusPublished},
	StatusRejected:    {ActionRevise: StatusDraft},
	StatusPublished:   {},
}

var actionTargets = map[Action]Status{
	ActionSubmit:      StatusSubmitted,
	ActionStartReview: StatusUnderReview,
	ActionApprove:     StatusApproved,
	ActionPublish:     StatusPublished,
	ActionReject:      StatusRejected,
	ActionRevise:      StatusDraft,
}

var actionEvents = map[Action]string{
	ActionSubmit:      "submitted",
	ActionStartReview: "review_started",
	ActionApprove:     "approved",
	ActionPublish:     "published",
	ActionReject:      "rejected",
	ActionRevise:      "revised",
}

// Register identifies which governance body owns an item.
type Register string

const (
	// RegisterLexicon governs new business terms.
	RegisterLexicon Register = "lexicon"
	// RegisterModel governs new logical data model attributes.
	RegisterModel Register = "model"
)

// IsValid returns true for a known register.
func (r Register) IsValid() bool {
	return r == RegisterLexicon || r == RegisterModel
}

// ApproverRole is the role that reviews, approves, and publishes items.
func (r Register) ApproverRole() string {
	if r == RegisterModel {
		return "Data Modeller"
	}
	return "Lexicon Expert"
}

// OwnerRole is the role that submits and revises items.
const OwnerRole = "Use Case Owner"

// DefaultRejectReason is recorded when a reviewer rejects without comment.
const DefaultRejectReason = "Definition needs clarification"

// Key identifies an item. Requirement ids are only unique within a use case.
type Key struct {
	UseCaseID     string `json:"use_case_id"`
	RequirementID string `json:"requirement_id"`
}

// AuditEntry records one transition. Entries are only ever appended.
type AuditEntry struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Action    Action    `json:"action"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorRole string    `json:"actor_role"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Item is the governance token for one new requirement in one register.
type Item struct {
	Key
	Register Register `json:"register"`
	Status   Status   `json:"status"`

	// Snapshot of the proposed term, taken when the item was opened.
	TermLabel  string `json:"term_label"`
	Definition string `json:"definition"`
	Domain     string `json:"domain"`
	Entity     string `json:"entity"`
	Attribute  string `json:"attribute"`
	IsCDE      bool   `json:"is_cde"`

	CreatedAt  time.Time    `json:"created_at"`
	CreatedBy  string       `json:"created_by"`
	AuditTrail []AuditEntry `json:"audit_trail"`
}

func (it Item) clone() Item {
	out := it
	out.AuditTrail = make([]AuditEntry, len(it.AuditTrail))
	copy(out.AuditTrail, it.AuditTrail)
	return out
}

// Payload carries the optional inputs of a transition.
type Payload struct {
	// ActorRole defaults to the owner or approver role of the action.
	ActorRole string `json:"actor_role,omitempty"`
	// Reason is recorded on rejection.
	Reason string `json:"reason,omitempty"`
}

// Counts is the number of items in each status.
type Counts struct {
	ByStatus map[Status]int `json:"by_status"`
	Total    int            `json:"total"`
}

// Sum adds up the per-status counts. It always equals Total.
func (c Counts) Sum() int {
	n := 0
	for _, v := range c.ByStatus {
		n += v
	}
	return n
}

// Pending is the number of items not yet published.
func (c Counts) Pending() int {
	return c.Total - c.ByStatus[StatusPublished]
}

// BulkResult reports what a bulk submit changed.
type BulkResult struct {
	Submitted []string `json:"submitted"`
	Unchanged int      `json:"unchanged"`
}
