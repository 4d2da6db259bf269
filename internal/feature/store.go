package feature

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
)

// DefaultLabelTimeout is how long a new feature waits for a zone type.
const DefaultLabelTimeout = 10 * time.Second

// ChangeKind names what happened to a feature.
type ChangeKind string

// Change kinds.
const (
	Created    ChangeKind = "created"
	Updated    ChangeKind = "updated"
	Deleted    ChangeKind = "deleted"
	Labelled   ChangeKind = "labelled"
	Reasserted ChangeKind = "reasserted"
	Loaded     ChangeKind = "loaded"
)

// Change is published after every successful mutation.
type Change struct {
	Kind    ChangeKind
	Feature Feature
	// Persist is set when the change must reach the persistence collaborator.
	Persist bool
}

// Warning reports a rejected boundary mutation. The store has already
// restored the boundary when a warning is published.
type Warning struct {
	FeatureID string
	Op        string
	Message   string
}

// Prompt asks the host UI for a zone type and label of a new feature.
type Prompt struct {
	FeatureID string
	Deadline  time.Time
}

// Patch lists the fields an update changes. Nil fields are left alone.
type Patch struct {
	Geometry orb.Geometry
	ZoneType *string
	Label    *string
}

// Options configure a Store.
type Options struct {
	LabelTimeout time.Duration
}

type pendingLabel struct {
	timer    *time.Timer
	deadline time.Time
}

// Store is the working set of features for one editing session.
//
// Events are delivered in mutation order. A handler may call back into the
// store; events raised by the nested call are queued and delivered after the
// current one.
type Store struct {
	mu       sync.Mutex
	features map[string]Feature
	order    []string
	boundary string
	pending  map[string]*pendingLabel
	timeout  time.Duration

	queue    []any
	draining bool

	onChange  []func(Change)
	onWarning []func(Warning)
	onPrompt  []func(Prompt)

	closed bool
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.LabelTimeout <= 0 {
		opts.LabelTimeout = DefaultLabelTimeout
	}
	return &Store{
		features: make(map[string]Feature),
		pending:  make(map[string]*pendingLabel),
		timeout:  opts.LabelTimeout,
	}
}

// OnChange registers a change handler.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// OnWarning registers a boundary warning handler.
func (s *Store) OnWarning(fn func(Warning)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWarning = append(s.onWarning, fn)
}

// OnPrompt registers a label prompt handler.
func (s *Store) OnPrompt(fn func(Prompt)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPrompt = append(s.onPrompt, fn)
}

// Create adds a feature and returns its ID. A feature without a zone type
// waits for ResolveLabel and falls back to DefaultZone after the label timeout.
func (s *Store) Create(f Feature) (string, error) {
	geom, err := normalizeGeometry(f.Geometry)
	if err != nil {
		return "", err
	}
	f.Geometry = geom

	s.mu.Lock()
	if f.IsBoundary() && s.boundary != "" {
		s.mu.Unlock()
		return "", ErrDuplicateBoundary
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	} else if _, ok := s.features[f.ID]; ok {
		s.mu.Unlock()
		return "", fmt.Errorf("feature %s already exists", f.ID)
	}

	s.insertLocked(f)
	s.publishLocked(Change{Kind: Created, Feature: f.Clone(), Persist: true})
	if f.ZoneType == "" {
		s.awaitLabelLocked(f.ID)
	}
	s.mu.Unlock()

	s.flush()
	return f.ID, nil
}

// Load replaces the working set, e.g. with zones from the persistence
// collaborator. It does not prompt for labels.
func (s *Store) Load(features []Feature) error {
	normalized := make([]Feature, 0, len(features))
	boundaries := 0
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		geom, err := normalizeGeometry(f.Geometry)
		if err != nil {
			return fmt.Errorf("feature %s: %w", f.ID, err)
		}
		f.Geometry = geom
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if seen[f.ID] {
			return fmt.Errorf("feature %s loaded twice", f.ID)
		}
		seen[f.ID] = true
		if f.IsBoundary() {
			boundaries++
		}
		if f.ZoneType == "" {
			f.ZoneType = DefaultZone
		}
		normalized = append(normalized, f)
	}
	if boundaries > 1 {
		return ErrDuplicateBoundary
	}

	s.mu.Lock()
	s.stopPendingLocked()
	s.features = make(map[string]Feature, len(normalized))
	s.order = s.order[:0]
	s.boundary = ""
	for _, f := range normalized {
		s.insertLocked(f)
		s.publishLocked(Change{Kind: Loaded, Feature: f.Clone()})
	}
	s.mu.Unlock()

	s.flush()
	return nil
}

// Update applies a patch. Geometry or zone changes against the boundary are
// discarded, the prior geometry is reasserted and a warning is published.
func (s *Store) Update(id string, p Patch) error {
	var geom orb.Geometry
	if p.Geometry != nil {
		g, err := normalizeGeometry(p.Geometry)
		if err != nil {
			return err
		}
		geom = g
	}

	s.mu.Lock()
	f, ok := s.features[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if f.IsBoundary() {
		structural := geom != nil || (p.ZoneType != nil && *p.ZoneType != BoundaryZone)
		if p.Label != nil {
			f.Label = *p.Label
			s.features[id] = f
		}
		if structural {
			s.violationLocked(f, "update")
		} else if p.Label != nil {
			s.publishLocked(Change{Kind: Updated, Feature: f.Clone(), Persist: true})
		}
		s.mu.Unlock()
		s.flush()
		return nil
	}

	if p.ZoneType != nil && *p.ZoneType == BoundaryZone {
		s.mu.Unlock()
		return ErrReservedZone
	}

	if geom != nil {
		f.Geometry = geom
	}
	if p.Label != nil {
		f.Label = *p.Label
	}
	if p.ZoneType != nil && *p.ZoneType != "" {
		f.ZoneType = *p.ZoneType
		s.clearPendingLocked(id)
	}
	s.features[id] = f
	s.publishLocked(Change{Kind: Updated, Feature: f.Clone(), Persist: true})
	s.mu.Unlock()

	s.flush()
	return nil
}

// Delete removes a feature. Deleting the boundary is vetoed and the boundary
// is immediately reinserted.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	f, ok := s.features[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if f.IsBoundary() {
		s.violationLocked(f, "delete")
		s.mu.Unlock()
		s.flush()
		return nil
	}

	s.clearPendingLocked(id)
	delete(s.features, id)
	for i, fid := range s.order {
		if fid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.publishLocked(Change{Kind: Deleted, Feature: f.Clone(), Persist: true})
	s.mu.Unlock()

	s.flush()
	return nil
}

// ResolveLabel answers the prompt of a new feature. An empty zone type
// commits DefaultZone.
func (s *Store) ResolveLabel(id, zoneType, label string) error {
	if zoneType == BoundaryZone {
		return ErrReservedZone
	}
	if zoneType == "" {
		zoneType = DefaultZone
	}

	s.mu.Lock()
	if _, ok := s.pending[id]; !ok {
		s.mu.Unlock()
		if _, exists := s.Get(id); !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return ErrNotPending
	}
	s.commitLabelLocked(id, zoneType, label)
	s.mu.Unlock()

	s.flush()
	return nil
}

// Get returns a copy of one feature.
func (s *Store) Get(id string) (Feature, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.features[id]
	if !ok {
		return Feature{}, false
	}
	return f.Clone(), true
}

// All returns copies of every feature in creation order.
func (s *Store) All() []Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Feature, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.features[id].Clone())
	}
	return out
}

// Boundary returns the farm boundary if one exists.
func (s *Store) Boundary() (Feature, bool) {
	s.mu.Lock()
	id := s.boundary
	s.mu.Unlock()
	if id == "" {
		return Feature{}, false
	}
	return s.Get(id)
}

// Len returns the number of features.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Pending reports whether a feature is awaiting its label.
func (s *Store) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// Close stops label timers. Features stay readable.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopPendingLocked()
	s.mu.Unlock()
}

func (s *Store) insertLocked(f Feature) {
	s.features[f.ID] = f
	s.order = append(s.order, f.ID)
	if f.IsBoundary() {
		s.boundary = f.ID
	}
}

func (s *Store) violationLocked(f Feature, op string) {
	log.Warn().
		Str("feature", f.ID).
		Str("op", op).
		Msg("Boundary is read-only, restoring previous geometry")

	s.publishLocked(Warning{
		FeatureID: f.ID,
		Op:        op,
		Message:   "The farm boundary can't be changed here",
	})
	s.publishLocked(Change{Kind: Reasserted, Feature: f.Clone()})
}

func (s *Store) awaitLabelLocked(id string) {
	if s.closed {
		return
	}
	p := &pendingLabel{deadline: time.Now().Add(s.timeout)}
	p.timer = time.AfterFunc(s.timeout, func() { s.expire(id, p) })
	s.pending[id] = p
	s.publishLocked(Prompt{FeatureID: id, Deadline: p.deadline})
}

func (s *Store) expire(id string, p *pendingLabel) {
	s.mu.Lock()
	if s.pending[id] != p {
		s.mu.Unlock()
		return
	}
	log.Debug().Str("feature", id).Msg("Label prompt timed out, using default zone")
	s.commitLabelLocked(id, DefaultZone, "")
	s.mu.Unlock()

	s.flush()
}

func (s *Store) commitLabelLocked(id, zoneType, label string) {
	s.clearPendingLocked(id)
	f, ok := s.features[id]
	if !ok {
		return
	}
	f.ZoneType = zoneType
	f.Label = label
	s.features[id] = f
	s.publishLocked(Change{Kind: Labelled, Feature: f.Clone(), Persist: true})
}

func (s *Store) clearPendingLocked(id string) {
	if p, ok := s.pending[id]; ok {
		p.timer.Stop()
		delete(s.pending, id)
	}
}

func (s *Store) stopPendingLocked() {
	for id := range s.pending {
		s.clearPendingLocked(id)
	}
}

func (s *Store) publishLocked(ev any) {
	s.queue = append(s.queue, ev)
}

// flush delivers queued events. Only one goroutine drains at a time; a
// nested or concurrent call leaves its events to the active drainer. A
// panicking handler releases the drain so later events still go out.
func (s *Store) flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
			panic(r)
		}
	}()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		changes, warnings, prompts := s.onChange, s.onWarning, s.onPrompt
		s.mu.Unlock()

		switch e := ev.(type) {
		case Change:
			for _, fn := range changes {
				fn(e)
			}
		case Warning:
			for _, fn := range warnings {
				fn(e)
			}
		case Prompt:
			for _, fn := range prompts {
				fn(e)
			}
		}
	}
}
