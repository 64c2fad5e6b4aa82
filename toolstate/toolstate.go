// Package toolstate persists the active tool and tool length calibration.
package toolstate

import (
	"context"
	"errors"
	"math"
	"sync"
)

var (
	// ErrNotFound is returned by Store.Load when nothing was saved yet.
	ErrNotFound = errors.New("tool state not found")

	// ErrReferenceReset is returned when the stored reference length was
	// implausible and had to be reset before computing an offset.
	ErrReferenceReset = errors.New("reference tool length reset")
)

const (
	// ReferenceUnset is the sentinel reference length. Valid references
	// are always below zero in machine coordinates.
	ReferenceUnset = -10.0

	epsilon = 1e-4
)

// Record is the persisted tool state.
type Record struct {
	ActiveTool       int     `json:"active_tool"`
	ReferenceMZ      float64 `json:"reference_mz"`
	CurrentMZ        float64 `json:"current_mz"`
	ToolLengthOffset float64 `json:"tool_length_offset"`
}

// DefaultRecord is used when nothing has been persisted.
func DefaultRecord() Record {
	return Record{ActiveTool: -1, ReferenceMZ: ReferenceUnset}
}

// Changed reports whether r differs meaningfully from o.
func (r Record) Changed(o Record) bool {
	return r.ActiveTool != o.ActiveTool ||
		math.Abs(r.ReferenceMZ-o.ReferenceMZ) > epsilon ||
		math.Abs(r.CurrentMZ-o.CurrentMZ) > epsilon ||
		math.Abs(r.ToolLengthOffset-o.ToolLengthOffset) > epsilon
}

// Store is non-volatile storage for a Record.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, r Record) error
	Close() error
}

// Offsets is the in-memory tool state, written back to its Store only
// when a field changes.
type Offsets struct {
	mx    sync.Mutex
	store Store
	rec   Record
	saved Record
}

// Open loads the record from s, falling back to DefaultRecord.
func Open(ctx context.Context, s Store) (*Offsets, error) {
	rec, err := s.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		rec = DefaultRecord()
	} else if err != nil {
		return nil, err
	}
	return &Offsets{store: s, rec: rec, saved: rec}, nil
}

// Record returns the current state.
func (o *Offsets) Record() Record {
	o.mx.Lock()
	defer o.mx.Unlock()
	return o.rec
}

func (o *Offsets) ActiveTool() int {
	o.mx.Lock()
	defer o.mx.Unlock()
	return o.rec.ActiveTool
}

// SetActiveTool records the tool now held by the spindle.
func (o *Offsets) SetActiveTool(ctx context.Context, tool int) error {
	o.mx.Lock()
	defer o.mx.Unlock()
	o.rec.ActiveTool = tool
	return o.persist(ctx)
}

// Calibrated records a new measured tool length and recomputes the
// offset from the reference. If the reference is not below zero it is
// reset to ReferenceUnset first; the record is still saved and
// ErrReferenceReset is returned.
func (o *Offsets) Calibrated(ctx context.Context, mz float64) (Record, error) {
	o.mx.Lock()
	defer o.mx.Unlock()

	var reset bool
	if o.rec.ReferenceMZ >= 0 {
		o.rec.ReferenceMZ = ReferenceUnset
		reset = true
	}
	o.rec.CurrentMZ = mz
	o.rec.ToolLengthOffset = o.rec.CurrentMZ - o.rec.ReferenceMZ
	if err := o.persist(ctx); err != nil {
		return o.rec, err
	}
	if reset {
		return o.rec, ErrReferenceReset
	}
	return o.rec, nil
}

// SetReference makes the current tool the reference tool.
func (o *Offsets) SetReference(ctx context.Context) error {
	o.mx.Lock()
	defer o.mx.Unlock()
	o.rec.ReferenceMZ = o.rec.CurrentMZ
	o.rec.ToolLengthOffset = 0
	return o.persist(ctx)
}

// SetReferenceMZ overrides the reference length and recomputes the offset.
func (o *Offsets) SetReferenceMZ(ctx context.Context, mz float64) error {
	o.mx.Lock()
	defer o.mx.Unlock()
	o.rec.ReferenceMZ = mz
	o.rec.ToolLengthOffset = o.rec.CurrentMZ - mz
	return o.persist(ctx)
}

func (o *Offsets) persist(ctx context.Context) error {
	if !o.rec.Changed(o.saved) {
		return nil
	}
	if err := o.store.Save(ctx, o.rec); err != nil {
		return err
	}
	o.saved = o.rec
	return nil
}

// Close closes the underlying store.
func (o *Offsets) Close() error { return o.store.Close() }

// Memory is a Store that keeps the record in memory.
type Memory struct {
	mx    sync.Mutex
	rec   *Record
	Saves int
}

func (m *Memory) Load(context.Context) (Record, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.rec == nil {
		return Record{}, ErrNotFound
	}
	return *m.rec, nil
}

func (m *Memory) Save(_ context.Context, r Record) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.rec = &r
	m.Saves++
	return nil
}

func (m *Memory) Close() error { return nil }
