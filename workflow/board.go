package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semreq/events"
	"github.com/c360studio/semreq/requirement"
	"github.com/google/uuid"
)

// TransitionObserver is told about every attempted transition.
type TransitionObserver func(register Register, action Action, err error)

// Board holds the governance items of one register across all use cases.
// Items are serialized individually; different items transition in parallel.
type Board struct {
	register Register

	mu    sync.RWMutex
	items map[Key]*entry
	order map[string][]Key

	publisher      events.Publisher
	observer       TransitionObserver
	rejectReason   string
	approverRole   string
	clock          func() time.Time
	publishTimeout time.Duration
	logger         *slog.Logger
}

type entry struct {
	mu   sync.Mutex
	item Item
}

// BoardOption configures a Board.
type BoardOption func(*Board)

// WithPublisher sets the event publisher for committed transitions.
func WithPublisher(p events.Publisher) BoardOption {
	return func(b *Board) {
		b.publisher = p
	}
}

// WithObserver sets a callback run after every attempted transition.
func WithObserver(o TransitionObserver) BoardOption {
	return func(b *Board) {
		b.observer = o
	}
}

// WithRejectReason overrides the reason recorded for a rejection without comment.
func WithRejectReason(reason string) BoardOption {
	return func(b *Board) {
		if reason != "" {
			b.rejectReason = reason
		}
	}
}

// WithApproverRole overrides the register's default approver role.
func WithApproverRole(role string) BoardOption {
	return func(b *Board) {
		if role != "" {
			b.approverRole = role
		}
	}
}

// WithClock sets the time source for audit timestamps.
func WithClock(clock func() time.Time) BoardOption {
	return func(b *Board) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BoardOption {
	return func(b *Board) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBoard creates an empty board for a register.
func NewBoard(register Register, opts ...BoardOption) *Board {
	b := &Board{
		register:       register,
		items:          make(map[Key]*entry),
		order:          make(map[string][]Key),
		rejectReason:   DefaultRejectReason,
		approverRole:   register.ApproverRole(),
		clock:          time.Now,
		publishTimeout: 5 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register returns the register this board governs.
func (b *Board) Register() Register {
	return b.register
}

// ApproverRole returns the role that reviews items on this board.
func (b *Board) ApproverRole() string {
	return b.approverRole
}

// Open creates a draft item for a requirement classified new. Opening an
// existing item returns it unchanged with created=false.
func (b *Board) Open(useCaseID string, r requirement.Requirement, actorRole string) (Item, bool, error) {
	if r.MatchState != requirement.MatchNew {
		return Item{}, false, fmt.Errorf("%w: requirement %s is %s", ErrNotEligible, r.ID, r.MatchState)
	}
	if actorRole == "" {
		actorRole = OwnerRole
	}

	key := Key{UseCaseID: useCaseID, RequirementID: r.ID}

	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.items[key]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.item.clone(), false, nil
	}

	e := &entry{item: Item{
		Key:        key,
		Register:   b.register,
		Status:     StatusDraft,
		TermLabel:  r.TermLabel,
		Definition: r.Definition,
		Domain:     r.Domain,
		Entity:     r.Entity,
		Attribute:  r.Attribute,
		IsCDE:      r.IsCDE,
		CreatedAt:  b.clock(),
		CreatedBy:  actorRole,
		AuditTrail: []AuditEntry{},
	}}
	b.items[key] = e
	b.order[useCaseID] = append(b.order[useCaseID], key)

	b.logger.Debug("Governance item opened",
		"register", b.register,
		"use_case", useCaseID,
		"requirement", r.ID)
	return e.item.clone(), true, nil
}

// Transition applies an action to an item. An action not allowed from the
// item's current status returns a *TransitionError and leaves it unchanged.
func (b *Board) Transition(ctx context.Context, key Key, action Action, p Payload) (Item, error) {
	if !action.IsValid() {
		err := fmt.Errorf("%w: %q", ErrUnknownAction, action)
		b.observe(action, err)
		return Item{}, err
	}

	e, err := b.entry(key)
	if err != nil {
		b.observe(action, err)
		return Item{}, err
	}

	e.mu.Lock()
	audit, err := b.apply(e, action, p)
	snapshot := e.item.clone()
	e.mu.Unlock()

	b.observe(action, err)
	if err != nil {
		return snapshot, err
	}

	b.logger.Info("Governance transition",
		"register", b.register,
		"use_case", key.UseCaseID,
		"requirement", key.RequirementID,
		"action", action,
		"from", audit.From,
		"to", audit.To)
	b.publish(ctx, key, audit)
	return snapshot, nil
}

// BulkSubmit submits every draft item of the use case. Items in any other
// status are left alone, so a repeated call changes nothing.
func (b *Board) BulkSubmit(ctx context.Context, useCaseID, actorRole string) BulkResult {
	result := BulkResult{Submitted: []string{}}
	for _, key := range b.keys(useCaseID) {
		e, err := b.entry(key)
		if err != nil {
			continue
		}

		e.mu.Lock()
		if e.item.Status != StatusDraft {
			e.mu.Unlock()
			result.Unchanged++
			continue
		}
		audit, err := b.apply(e, ActionSubmit, Payload{ActorRole: actorRole})
		e.mu.Unlock()

		b.observe(ActionSubmit, err)
		if err != nil {
			result.Unchanged++
			continue
		}
		result.Submitted = append(result.Submitted, key.RequirementID)
		b.publish(ctx, key, audit)
	}

	if len(result.Submitted) > 0 {
		b.logger.Info("Bulk submit",
			"register", b.register,
			"use_case", useCaseID,
			"submitted", len(result.Submitted),
			"unchanged", result.Unchanged)
	}
	return result
}

// Counts returns the number of items per status for a use case. Every status
// is present and the counts sum to Total.
func (b *Board) Counts(useCaseID string) Counts {
	c := Counts{ByStatus: make(map[Status]int, len(AllStatuses))}
	for _, s := range AllStatuses {
		c.ByStatus[s] = 0
	}
	for _, item := range b.Items(useCaseID) {
		c.ByStatus[item.Status]++
		c.Total++
	}
	return c
}

// Items returns snapshots of a use case's items in the order they were opened.
func (b *Board) Items(useCaseID string) []Item {
	keys := b.keys(useCaseID)
	out := make([]Item, 0, len(keys))
	for _, key := range keys {
		e, err := b.entry(key)
		if err != nil {
			continue
		}
		e.mu.Lock()
		out = append(out, e.item.clone())
		e.mu.Unlock()
	}
	return out
}

// Item returns a snapshot of one item.
func (b *Board) Item(key Key) (Item, error) {
	e, err := b.entry(key)
	if err != nil {
		return Item{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item.clone(), nil
}

// HasOpenItem reports whether the requirement has an item that is not yet
// published. It satisfies requirement.Guard.
func (b *Board) HasOpenItem(useCaseID, requirementID string) bool {
	e, err := b.entry(Key{UseCaseID: useCaseID, RequirementID: requirementID})
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.item.Status.IsTerminal()
}

// apply performs the transition. Callers hold e.mu.
func (b *Board) apply(e *entry, action Action, p Payload) (AuditEntry, error) {
	from := e.item.Status
	to, ok := from.Next(action)
	if !ok {
		return AuditEntry{}, &TransitionError{
			Key:       e.item.Key,
			Current:   from,
			Action:    action,
			Requested: action.Target(),
		}
	}

	actor := p.ActorRole
	if actor == "" {
		actor = b.defaultActor(action)
	}
	reason := p.Reason
	if action == ActionReject && reason == "" {
		reason = b.rejectReason
	}

	audit := AuditEntry{
		ID:        uuid.New().String(),
		Event:     action.Event(),
		Action:    action,
		From:      from,
		To:        to,
		ActorRole: actor,
		Reason:    reason,
		Timestamp: b.clock(),
	}
	e.item.Status = to
	e.item.AuditTrail = append(e.item.AuditTrail, audit)
	return audit, nil
}

func (b *Board) defaultActor(action Action) string {
	switch action {
	case ActionSubmit, ActionRevise:
		return OwnerRole
	default:
		return b.approverRole
	}
}

func (b *Board) publish(ctx context.Context, key Key, audit AuditEntry) {
	if b.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.publishTimeout)
	defer cancel()

	e := events.NewTransition(key.UseCaseID, key.RequirementID, string(b.register),
		string(audit.Action), string(audit.From), string(audit.To), audit.ActorRole, audit.Reason, audit.Timestamp)
	if err := b.publisher.Publish(ctx, e); err != nil {
		b.logger.Warn("Failed to publish governance event",
			"register", b.register,
			"use_case", key.UseCaseID,
			"requirement", key.RequirementID,
			"action", audit.Action,
			"error", err)
	}
}

func (b *Board) observe(action Action, err error) {
	if b.observer != nil {
		b.observer(b.register, action, err)
	}
}

func (b *Board) entry(key Key) (*entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.items[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s item for requirement %s in use case %s",
			ErrNotFound, b.register, key.RequirementID, key.UseCaseID)
	}
	return e, nil
}

func (b *Board) keys(useCaseID string) []Key {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]Key, len(b.order[useCaseID]))
	copy(keys, b.order[useCaseID])
	return keys
}
