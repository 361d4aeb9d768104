// Package workflow sequences an inspection session through its steps and
// gates every forward transition on the prerequisites of the current step.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"fieldline/internal/checklist"
	"fieldline/internal/domain"
	"fieldline/internal/media"
	"fieldline/internal/syncer"
	"fieldline/internal/syncq"
)

var (
	ErrStepNotReady          = errors.New("step not ready")
	ErrResetWhileSyncing     = errors.New("cannot reset while a sync is in flight")
	ErrSyncAlreadyInProgress = syncer.ErrSyncAlreadyInProgress
	ErrWorkflowComplete      = errors.New("workflow already complete")
	ErrAtFirstStep           = errors.New("already at the first step")
	ErrNotComplete           = errors.New("workflow is not complete")
	ErrPropertyLocked        = errors.New("property can only be selected before the inspection is created")
)

// StepNotReadyError is returned by Advance when the current step has unmet
// prerequisites. It matches ErrStepNotReady with errors.Is.
type StepNotReadyError struct {
	Step    domain.Step
	Reason  string
	Missing []string
}

func (e *StepNotReadyError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("step %s not ready: %s (%s)", e.Step, e.Reason, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("step %s not ready: %s", e.Step, e.Reason)
}

func (e *StepNotReadyError) Unwrap() error { return ErrStepNotReady }

// SessionCreator opens the remote inspection record.
type SessionCreator interface {
	CreateInspection(ctx context.Context, propertyID, inspectorID string) (string, error)
}

type Options struct {
	RequireVideo bool
	InspectorID  string
	Logger       *slog.Logger
}

type Machine struct {
	// op serializes state-changing operations; mu guards state and is never
	// held across a remote call.
	op sync.Mutex
	mu sync.Mutex

	state domain.WorkflowState

	Checklist *checklist.Tracker
	Media     *media.Registry
	Queue     *syncq.Queue
	Syncer    *syncer.Orchestrator
	Sessions  SessionCreator

	requireVideo bool
	logger       *slog.Logger
	NewID        func() string
}

func New(tracker *checklist.Tracker, registry *media.Registry, queue *syncq.Queue, orch *syncer.Orchestrator, sessions SessionCreator, opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		Checklist:    tracker,
		Media:        registry,
		Queue:        queue,
		Syncer:       orch,
		Sessions:     sessions,
		requireVideo: opts.RequireVideo,
		logger:       logger,
		NewID:        func() string { return uuid.New().String() },
	}
	m.state = m.initial(opts.InspectorID)
	return m
}

func (m *Machine) initial(inspectorID string) domain.WorkflowState {
	return domain.WorkflowState{
		SessionID:        m.NewID(),
		CurrentStepIndex: 0,
		TotalSteps:       len(domain.Steps),
		CurrentStep:      domain.Steps[0],
		InspectorID:      inspectorID,
	}
}

// State returns a copy of the workflow state.
func (m *Machine) State() domain.WorkflowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.state)
}

func copyState(s domain.WorkflowState) domain.WorkflowState {
	if s.InspectionID != nil {
		id := *s.InspectionID
		s.InspectionID = &id
	}
	return s
}

// Restore loads a persisted workflow state.
func (m *Machine) Restore(state domain.WorkflowState) error {
	if state.CurrentStepIndex < 0 || state.CurrentStepIndex >= len(domain.Steps) {
		return fmt.Errorf("invalid step index %d", state.CurrentStepIndex)
	}
	state.TotalSteps = len(domain.Steps)
	state.CurrentStep = domain.Steps[state.CurrentStepIndex]
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = copyState(state)
	return nil
}

func (m *Machine) SetInspector(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.InspectorID = id
}

func (m *Machine) SelectProperty(ref string) (domain.WorkflowState, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return m.State(), errors.New("property reference is required")
	}
	m.op.Lock()
	defer m.op.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.IsComplete {
		return copyState(m.state), ErrWorkflowComplete
	}
	if m.state.InspectionID != nil {
		return copyState(m.state), ErrPropertyLocked
	}
	m.state.SelectedPropertyRef = ref
	return copyState(m.state), nil
}

func (m *Machine) SkipVideo() (domain.WorkflowState, error) {
	m.op.Lock()
	defer m.op.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.IsComplete {
		return copyState(m.state), ErrWorkflowComplete
	}
	m.state.VideoSkipped = true
	return copyState(m.state), nil
}

// Advance moves to the next step if the current one is satisfied. Entering
// offline_sync creates the remote inspection once per session.
func (m *Machine) Advance(ctx context.Context) (domain.WorkflowState, error) {
	m.op.Lock()
	defer m.op.Unlock()

	cur := m.State()
	if cur.IsComplete || cur.CurrentStep == domain.StepComplete {
		return cur, ErrWorkflowComplete
	}
	if err := m.ready(cur); err != nil {
		return cur, err
	}
	next := domain.Steps[cur.CurrentStepIndex+1]
	var createdID string
	if next == domain.StepOfflineSync && cur.InspectionID == nil {
		if m.Sessions == nil {
			return cur, errors.New("no inspection session creator configured")
		}
		id, err := m.Sessions.CreateInspection(ctx, cur.SelectedPropertyRef, cur.InspectorID)
		if err != nil {
			return cur, fmt.Errorf("create inspection: %w", err)
		}
		createdID = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if createdID != "" && m.state.InspectionID == nil {
		m.state.InspectionID = &createdID
	}
	m.moveTo(cur.CurrentStepIndex + 1)
	if next == domain.StepComplete {
		m.state.IsComplete = true
	}
	m.logger.Info("workflow advanced", "session_id", m.state.SessionID, "from", cur.CurrentStep, "to", next)
	return copyState(m.state), nil
}

// moveTo must be called with mu held.
func (m *Machine) moveTo(idx int) {
	m.state.CurrentStepIndex = idx
	m.state.CurrentStep = domain.Steps[idx]
}

func (m *Machine) ready(s domain.WorkflowState) error {
	step := s.CurrentStep
	switch step {
	case domain.StepPropertySelection:
		if s.SelectedPropertyRef == "" {
			return &StepNotReadyError{Step: step, Reason: "no property selected"}
		}
	case domain.StepChecklistGeneration:
		if !m.Checklist.Populated() {
			return &StepNotReadyError{Step: step, Reason: "checklist not populated"}
		}
	case domain.StepPhotoCapture:
		if ok, missing := m.Checklist.PhotoEvidenceSatisfied(); !ok {
			return &StepNotReadyError{Step: step, Reason: "required photo items are not completed", Missing: missing}
		}
	case domain.StepVideoWalkthrough:
		if !m.requireVideo {
			return nil
		}
		if !s.VideoSkipped && !m.Media.HasKind(domain.MediaVideo) {
			return &StepNotReadyError{Step: step, Reason: "no video captured and video not skipped"}
		}
	case domain.StepOfflineSync:
		last := m.Syncer.LastResult()
		if last == nil {
			return &StepNotReadyError{Step: step, Reason: "not synced yet"}
		}
		if !last.FullySynced {
			return &StepNotReadyError{Step: step, Reason: fmt.Sprintf("%d queued units and %d media items still pending", last.RemainingQueue, last.PendingMedia)}
		}
		if n := m.Queue.Len(); n > 0 {
			return &StepNotReadyError{Step: step, Reason: fmt.Sprintf("%d units changed since the last sync", n)}
		}
	}
	return nil
}

// Previous moves back one step. It is refused while a sync is in flight.
func (m *Machine) Previous() (domain.WorkflowState, error) {
	m.op.Lock()
	defer m.op.Unlock()
	var out domain.WorkflowState
	err := m.Syncer.WhenIdle(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		out = copyState(m.state)
		if m.state.IsComplete {
			return ErrWorkflowComplete
		}
		if m.state.CurrentStepIndex == 0 {
			return ErrAtFirstStep
		}
		m.moveTo(m.state.CurrentStepIndex - 1)
		out = copyState(m.state)
		return nil
	})
	if err != nil {
		if errors.Is(err, syncer.ErrSyncAlreadyInProgress) {
			return m.State(), ErrSyncAlreadyInProgress
		}
		return out, err
	}
	return out, nil
}

// Reset restores the initial state and clears the checklist, media and
// queue. It fails with ErrResetWhileSyncing during a sync run.
func (m *Machine) Reset() (domain.WorkflowState, error) {
	m.op.Lock()
	defer m.op.Unlock()
	return m.reset()
}

func (m *Machine) reset() (domain.WorkflowState, error) {
	var out domain.WorkflowState
	err := m.Syncer.WhenIdle(func() error {
		m.Checklist.Clear()
		m.Media.Clear()
		m.Queue.Clear()
		m.Syncer.SetLastResult(nil)
		m.mu.Lock()
		defer m.mu.Unlock()
		m.state = m.initial(m.state.InspectorID)
		out = copyState(m.state)
		return nil
	})
	if errors.Is(err, syncer.ErrSyncAlreadyInProgress) {
		return m.State(), ErrResetWhileSyncing
	}
	if err == nil {
		m.logger.Info("workflow reset", "session_id", out.SessionID)
	}
	return out, err
}

// Sync runs the orchestrator for the session's inspection. A fully synced
// run on the offline_sync step completes the workflow.
func (m *Machine) Sync(ctx context.Context) (domain.SyncResult, error) {
	st := m.State()
	id := ""
	if st.InspectionID != nil {
		id = *st.InspectionID
	}
	res, err := m.Syncer.SyncToServer(ctx, id)
	if err != nil {
		return res, err
	}
	if res.FullySynced {
		m.mu.Lock()
		if m.state.SessionID == st.SessionID && m.state.CurrentStep == domain.StepOfflineSync {
			m.moveTo(m.state.CurrentStepIndex + 1)
			m.state.IsComplete = true
			m.logger.Info("workflow complete", "session_id", m.state.SessionID)
		}
		m.mu.Unlock()
	}
	return res, nil
}

// Handoff returns the final snapshot of a completed session and resets.
func (m *Machine) Handoff() (domain.Snapshot, error) {
	m.op.Lock()
	defer m.op.Unlock()
	snap := m.Snapshot()
	if !snap.Workflow.IsComplete {
		return snap, ErrNotComplete
	}
	if _, err := m.reset(); err != nil {
		return snap, err
	}
	return snap, nil
}

// Snapshot is the read-only view of the whole session.
func (m *Machine) Snapshot() domain.Snapshot {
	return domain.Snapshot{
		Workflow:   m.State(),
		Checklist:  m.Checklist.Items(),
		Counters:   m.Checklist.Counters(),
		Media:      m.Media.Items(),
		MediaCount: m.Media.Counts(),
		Queue:      m.Queue.Items(),
		LastSync:   m.Syncer.LastResult(),
		Syncing:    m.Syncer.InFlight(),
	}
}
