package requirement

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
)

// Guard reports whether a requirement is still owned by an open governance
// item. The store consults it before deleting a requirement.
type Guard interface {
	HasOpenItem(useCaseID, requirementID string) bool
}

// Store holds canonical requirement records and mapping overrides per use case.
// All operations are synchronous and safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	useCases map[string]*useCaseRecords
	guard    Guard
	logger   *slog.Logger

	// revision increases on every write; consumers use it to detect staleness.
	revision uint64
}

type useCaseRecords struct {
	order   []string
	records map[string]*record

	// highWater is the largest numeric id ever held; assigned ids start above it.
	highWater int
	// retired holds deleted ids. They stay keyed to governance history and
	// are never handed out again.
	retired map[string]bool
}

func (uc *useCaseRecords) note(id string) {
	if n, ok := numericID(id); ok && n > uc.highWater {
		uc.highWater = n
	}
}

type record struct {
	req      Requirement
	override Override
	revision uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithGuard sets the governance guard consulted on delete.
func WithGuard(g Guard) StoreOption {
	return func(s *Store) {
		s.guard = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty record store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		useCases: make(map[string]*useCaseRecords),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load installs the canonical records of a use case. Records keep the order
// given. Loading a use case twice is an error.
func (s *Store) Load(useCaseID string, reqs []Requirement) error {
	if useCaseID == "" {
		return ErrUseCaseIDEmpty
	}

	uc := &useCaseRecords{
		order:   make([]string, 0, len(reqs)),
		records: make(map[string]*record, len(reqs)),
		retired: make(map[string]bool),
	}
	for _, r := range reqs {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("use case %s: %w", useCaseID, err)
		}
		if _, dup := uc.records[r.ID]; dup {
			return fmt.Errorf("%w: %s in use case %s", ErrDuplicateID, r.ID, useCaseID)
		}
		if r.Source == "" {
			r.Source = SourceDerived
		}
		uc.order = append(uc.order, r.ID)
		uc.records[r.ID] = &record{req: r}
		uc.note(r.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.useCases[useCaseID]; exists {
		return fmt.Errorf("%w: %s", ErrUseCaseExists, useCaseID)
	}
	s.useCases[useCaseID] = uc
	s.bump(uc, "")

	s.logger.Debug("Use case loaded", "use_case", useCaseID, "requirements", len(reqs))
	return nil
}

// Loaded reports whether a use case has been loaded.
func (s *Store) Loaded(useCaseID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.useCases[useCaseID]
	return ok
}

// UseCases returns the ids of all loaded use cases, sorted.
func (s *Store) UseCases() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.useCases))
	for id := range s.useCases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the canonical records of a use case in order.
func (s *Store) Get(useCaseID string) ([]Requirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uc, err := s.useCase(useCaseID)
	if err != nil {
		return nil, err
	}

	out := make([]Requirement, 0, len(uc.order))
	for _, id := range uc.order {
		out = append(out, uc.records[id].req)
	}
	return out, nil
}

// Lookup returns one canonical record.
func (s *Store) Lookup(useCaseID, reqID string) (Requirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(useCaseID, reqID)
	if err != nil {
		return Requirement{}, err
	}
	return rec.req, nil
}

// Classified returns the classification projection of every requirement of a
// use case, in order, with live override data applied.
func (s *Store) Classified(useCaseID string) ([]Classified, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uc, err := s.useCase(useCaseID)
	if err != nil {
		return nil, err
	}

	out := make([]Classified, 0, len(uc.order))
	for _, id := range uc.order {
		rec := uc.records[id]
		out = append(out, Classify(rec.req, rec.override))
	}
	return out, nil
}

// ClassifiedOne returns the classification projection of one requirement.
func (s *Store) ClassifiedOne(useCaseID, reqID string) (Classified, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(useCaseID, reqID)
	if err != nil {
		return Classified{}, err
	}
	return Classify(rec.req, rec.override), nil
}

// ApplyOverride records a mapping correction. Nil fields leave the existing
// override for that field in place. Concurrent writers resolve last-write-wins.
func (s *Store) ApplyOverride(useCaseID, reqID string, entity, attribute *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, err := s.useCase(useCaseID)
	if err != nil {
		return err
	}
	rec, ok := uc.records[reqID]
	if !ok {
		return fmt.Errorf("%w: requirement %s in use case %s", ErrNotFound, reqID, useCaseID)
	}

	if entity != nil {
		v := *entity
		rec.override.Entity = &v
	}
	if attribute != nil {
		v := *attribute
		rec.override.Attribute = &v
	}
	s.bump(uc, reqID)
	return nil
}

// ClearOverride removes the override so the canonical mapping shows again.
func (s *Store) ClearOverride(useCaseID, reqID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, err := s.useCase(useCaseID)
	if err != nil {
		return err
	}
	rec, ok := uc.records[reqID]
	if !ok {
		return fmt.Errorf("%w: requirement %s in use case %s", ErrNotFound, reqID, useCaseID)
	}
	if rec.override.IsEmpty() {
		return nil
	}
	rec.override = Override{}
	s.bump(uc, reqID)
	return nil
}

// OverrideFor returns the override of a requirement, if any.
func (s *Store) OverrideFor(useCaseID, reqID string) (Override, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(useCaseID, reqID)
	if err != nil {
		return Override{}, false, err
	}
	return rec.override.clone(), !rec.override.IsEmpty(), nil
}

// EffectiveEntity returns the overridden entity of r, or r.Entity.
func (s *Store) EffectiveEntity(useCaseID string, r Requirement) string {
	o, _, err := s.OverrideFor(useCaseID, r.ID)
	if err != nil {
		return r.Entity
	}
	return EffectiveEntity(r, o)
}

// EffectiveAttribute returns the overridden attribute of r, or r.Attribute.
func (s *Store) EffectiveAttribute(useCaseID string, r Requirement) string {
	o, _, err := s.OverrideFor(useCaseID, r.ID)
	if err != nil {
		return r.Attribute
	}
	return EffectiveAttribute(r, o)
}

// SetCDE stores the critical-data-element flag of a requirement.
func (s *Store) SetCDE(useCaseID, reqID string, cde bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, err := s.useCase(useCaseID)
	if err != nil {
		return err
	}
	rec, ok := uc.records[reqID]
	if !ok {
		return fmt.Errorf("%w: requirement %s in use case %s", ErrNotFound, reqID, useCaseID)
	}
	if rec.req.IsCDE == cde {
		return nil
	}
	rec.req.IsCDE = cde
	s.bump(uc, reqID)
	return nil
}

// ToggleCDE flips the CDE flag and returns the new value.
func (s *Store) ToggleCDE(useCaseID, reqID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, err := s.useCase(useCaseID)
	if err != nil {
		return false, err
	}
	rec, ok := uc.records[reqID]
	if !ok {
		return false, fmt.Errorf("%w: requirement %s in use case %s", ErrNotFound, reqID, useCaseID)
	}
	rec.req.IsCDE = !rec.req.IsCDE
	s.bump(uc, reqID)
	return rec.req.IsCDE, nil
}

// Add appends a requirement to a use case. An empty id is assigned as one
// above the highest numeric id the use case has ever held, so deleted ids are
// not reused. An explicit id that was deleted earlier is rejected. A
// hand-added requirement without a match state is classified new.
func (s *Store) Add(useCaseID string, r Requirement) (Requirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, err := s.useCase(useCaseID)
	if err != nil {
		return Requirement{}, err
	}

	if r.ID == "" {
		r.ID = strconv.Itoa(uc.highWater + 1)
	}
	if r.MatchState == "" {
		r.MatchState = MatchNew
	}
	if r.Source == "" {
		r.Source = SourceUser
	}
	if err := r.Validate(); err != nil {
		return Requirement{}, err
	}
	if _, dup := uc.records[r.ID]; dup {
		return Requirement{}, fmt.Errorf("%w: %s in use case %s", ErrDuplicateID, r.ID, useCaseID)
	}
	if uc.retired[r.ID] {
		return Requirement{}, fmt.Errorf("%w: %s was deleted from use case %s", ErrDuplicateID, r.ID, useCaseID)
	}

	uc.order = append(uc.order, r.ID)
	uc.records[r.ID] = &record{req: r}
	uc.note(r.ID)
	s.bump(uc, r.ID)
	return r, nil
}

// Delete removes a requirement. Requirements with an open governance item
// cannot be deleted; they must be revised through governance instead.
func (s *Store) Delete(useCaseID, reqID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, err := s.useCase(useCaseID)
	if err != nil {
		return err
	}
	if _, ok := uc.records[reqID]; !ok {
		return fmt.Errorf("%w: requirement %s in use case %s", ErrNotFound, reqID, useCaseID)
	}
	if s.guard != nil && s.guard.HasOpenItem(useCaseID, reqID) {
		return fmt.Errorf("%w: requirement %s in use case %s", ErrGoverned, reqID, useCaseID)
	}

	delete(uc.records, reqID)
	uc.retired[reqID] = true
	for i, id := range uc.order {
		if id == reqID {
			uc.order = append(uc.order[:i], uc.order[i+1:]...)
			break
		}
	}
	s.bump(uc, "")
	return nil
}

// Revision returns the store-wide write counter.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// RequirementRevision returns the revision at which a requirement last changed.
func (s *Store) RequirementRevision(useCaseID, reqID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.record(useCaseID, reqID)
	if err != nil {
		return 0, err
	}
	return rec.revision, nil
}

// bump advances the revision. Callers hold the write lock.
func (s *Store) bump(uc *useCaseRecords, reqID string) {
	s.revision++
	if reqID == "" {
		return
	}
	if rec, ok := uc.records[reqID]; ok {
		rec.revision = s.revision
	}
}

func (s *Store) useCase(useCaseID string) (*useCaseRecords, error) {
	uc, ok := s.useCases[useCaseID]
	if !ok {
		return nil, fmt.Errorf("%w: use case %s", ErrNotFound, useCaseID)
	}
	return uc, nil
}

func (s *Store) record(useCaseID, reqID string) (*record, error) {
	uc, err := s.useCase(useCaseID)
	if err != nil {
		return nil, err
	}
	rec, ok := uc.records[reqID]
	if !ok {
		return nil, fmt.Errorf("%w: requirement %s in use case %s", ErrNotFound, reqID, useCaseID)
	}
	return rec, nil
}
