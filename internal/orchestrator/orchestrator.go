// Package orchestrator wires the engine components together behind one
// Application surface, exposing exactly the operation set a transport
// (HTTP, CLI, or test) drives.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/r3e-network/taskforge/internal/authkernel"
	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/internal/engine/gatepolicy"
	"github.com/r3e-network/taskforge/internal/engine/graphengine"
	"github.com/r3e-network/taskforge/internal/engine/leasemanager"
	"github.com/r3e-network/taskforge/internal/engine/planapplier"
	"github.com/r3e-network/taskforge/internal/engine/readyscoring"
	"github.com/r3e-network/taskforge/internal/engine/statemachine"
	"github.com/r3e-network/taskforge/internal/store"
	"github.com/r3e-network/taskforge/pkg/errs"
)

// Application aggregates every engine component against a single store
// backend. Its methods are the orchestrator's entire external interface.
type Application struct {
	Store store.Store
	Log   *logrus.Logger

	Graph        *graphengine.Engine
	StateMachine *statemachine.Engine
	Leases       *leasemanager.Manager
	Plans        *planapplier.Engine
	Gates        *gatepolicy.Engine
	Ready        *readyscoring.Engine
	Auth         *authkernel.Kernel
}

// New wires every engine component against s.
func New(s store.Store, log *logrus.Logger, leaseOpts ...leasemanager.Option) *Application {
	if log == nil {
		log = logrus.New()
	}
	return &Application{
		Store:        s,
		Log:          log,
		Graph:        graphengine.New(s),
		StateMachine: statemachine.New(s),
		Leases:       leasemanager.New(s, leaseOpts...),
		Plans:        planapplier.New(s),
		Gates:        gatepolicy.New(s),
		Ready:        readyscoring.New(s),
		Auth:         authkernel.New(s),
	}
}

func newID() string { return uuid.NewString() }

// --- projects / phases / milestones -----------------------------------

func (a *Application) CreateProject(ctx context.Context, name string, now time.Time) (domain.Project, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Project{}, errs.InvalidEventPayload("name is required")
	}
	var result domain.Project
	err := a.Store.Atomic(ctx, func(ctx context.Context) error {
		project, err := a.Store.Projects().Create(ctx, domain.Project{
			ID:        newID(),
			Name:      name,
			Status:    domain.ProjectActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if _, err := a.Store.Plans().CreateVersion(ctx, domain.PlanVersion{
			ID: newID(), ProjectID: project.ID, VersionNumber: 1, Summary: "genesis", CreatedBy: "system", CreatedAt: now,
		}); err != nil {
			return err
		}
		result = project
		return nil
	})
	return result, err
}

func (a *Application) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return a.Store.Projects().List(ctx)
}

func (a *Application) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return a.Store.Projects().Get(ctx, id)
}

func (a *Application) CreatePhase(ctx context.Context, projectID, name string, sequence int, now time.Time) (domain.Phase, error) {
	var result domain.Phase
	err := a.Store.Atomic(ctx, func(ctx context.Context) error {
		if _, err := a.Store.Projects().Get(ctx, projectID); err != nil {
			return err
		}
		if taken, err := a.Store.Phases().SequenceTaken(ctx, projectID, sequence); err != nil {
			return err
		} else if taken {
			return errs.SequenceConflict("project:" + projectID)
		}
		phase, err := a.Store.Phases().Create(ctx, domain.Phase{
			ID:        newID(),
			ProjectID: projectID,
			Name:      name,
			Sequence:  sequence,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		result = phase
		return nil
	})
	return result, err
}

func (a *Application) CreateMilestone(ctx context.Context, projectID, phaseID, name string, sequence int, now time.Time) (domain.Milestone, error) {
	var result domain.Milestone
	err := a.Store.Atomic(ctx, func(ctx context.Context) error {
		phase, err := a.Store.Phases().Get(ctx, phaseID)
		if err != nil {
			return err
		}
		if phase.ProjectID != projectID {
			return errs.ProjectMismatch()
		}
		if taken, err := a.Store.Milestones().SequenceTaken(ctx, phaseID, sequence); err != nil {
			return err
		} else if taken {
			return errs.SequenceConflict("phase:" + phaseID)
		}
		milestone, err := a.Store.Milestones().Create(ctx, domain.Milestone{
			ID:        newID(),
			ProjectID: projectID,
			PhaseID:   phaseID,
			Name:      name,
			Sequence:  sequence,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		result = milestone
		return nil
	})
	return result, err
}

// --- tasks --------------------------------------------------------------

// CreateTaskInput mirrors the caller-supplied fields of a new Task; ID,
// State, Version, and timestamps are assigned by CreateTask.
type CreateTaskInput struct {
	ProjectID      string
	PhaseID        string
	MilestoneID    string
	Title          string
	Priority       int
	WorkSpec       domain.WorkSpec
	TaskClass      domain.TaskClass
	CapabilityTags []string
	ExclusivePaths []string
	SharedPaths    []string
}

func (a *Application) CreateTask(ctx context.Context, in CreateTaskInput, now time.Time) (domain.Task, error) {
	var result domain.Task
	err := a.Store.Atomic(ctx, func(ctx context.Context) error {
		milestone, err := a.Store.Milestones().Get(ctx, in.MilestoneID)
		if err != nil {
			return err
		}
		if milestone.ProjectID != in.ProjectID || milestone.PhaseID != in.PhaseID {
			return errs.PhaseMilestoneMismatch()
		}
		task, err := a.Store.Tasks().Create(ctx, domain.Task{
			ID:             newID(),
			ProjectID:      in.ProjectID,
			PhaseID:        in.PhaseID,
			MilestoneID:    in.MilestoneID,
			Title:          in.Title,
			State:          domain.TaskBacklog,
			Priority:       in.Priority,
			WorkSpec:       in.WorkSpec,
			TaskClass:      in.TaskClass,
			CapabilityTags: in.CapabilityTags,
			ExclusivePaths: in.ExclusivePaths,
			SharedPaths:    in.SharedPaths,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return err
		}
		result = task
		return nil
	})
	return result, err
}

func (a *Application) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return a.Store.Tasks().Get(ctx, id)
}

func (a *Application) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	return a.Store.Tasks().ListByProject(ctx, projectID)
}

func (a *Application) TransitionTaskState(ctx context.Context, req statemachine.Request) (statemachine.Result, error) {
	return a.StateMachine.Transition(ctx, req)
}

// --- dependencies ---------------------------------------------------

func (a *Application) CreateDependency(ctx context.Context, projectID, from, to string, unlockOn domain.UnlockOn) (domain.DependencyEdge, error) {
	return a.Graph.CreateDependency(ctx, projectID, from, to, unlockOn)
}

// ProjectGraph is the read model behind get_project_graph: every task in
// the project alongside the edges between them.
type ProjectGraph struct {
	Tasks []domain.Task
	Edges []domain.DependencyEdge
}

func (a *Application) GetProjectGraph(ctx context.Context, projectID string) (ProjectGraph, error) {
	tasks, err := a.Store.Tasks().ListByProject(ctx, projectID)
	if err != nil {
		return ProjectGraph{}, err
	}
	edges, err := a.Store.Dependencies().ListByProject(ctx, projectID)
	if err != nil {
		return ProjectGraph{}, err
	}
	return ProjectGraph{Tasks: tasks, Edges: edges}, nil
}

func (a *Application) GetReadyTasks(ctx context.Context, projectID, agentID string, capabilities []string) ([]domain.Task, error) {
	return a.Ready.ForAgent(ctx, projectID, agentID, capabilities)
}

// --- claim / heartbeat / assign -----------------------------------------

func (a *Application) ClaimTask(ctx context.Context, projectID, taskID, agentID string, now time.Time) (leasemanager.ClaimResult, error) {
	return a.Leases.Claim(ctx, projectID, taskID, agentID, now)
}

func (a *Application) HeartbeatTask(ctx context.Context, projectID, taskID, agentID, token string, seenPlanVersion *int64, now time.Time) (leasemanager.HeartbeatResult, error) {
	return a.Leases.Heartbeat(ctx, projectID, taskID, agentID, token, seenPlanVersion, now)
}

func (a *Application) AssignTask(ctx context.Context, projectID, taskID, assigneeAgentID, createdBy string, ttlSeconds int, now time.Time) (domain.Reservation, error) {
	return a.Leases.Assign(ctx, projectID, taskID, assigneeAgentID, createdBy, ttlSeconds, now)
}

// --- plan changesets ------------------------------------------------

func (a *Application) CreatePlanChangeset(ctx context.Context, projectID string, basePlanVersion, targetPlanVersion int64, ops []domain.ChangeOperation, createdBy string, now time.Time) (domain.PlanChangeSet, error) {
	return a.Store.Plans().CreateChangeSet(ctx, domain.PlanChangeSet{
		ID:                newID(),
		ProjectID:         projectID,
		BasePlanVersion:   basePlanVersion,
		TargetPlanVersion: targetPlanVersion,
		Status:            domain.ChangeSetDraft,
		Operations:        ops,
		CreatedBy:         createdBy,
		CreatedAt:         now,
	})
}

func (a *Application) ApplyPlanChangeset(ctx context.Context, changesetID string, allowRebase bool, appliedBy string, now time.Time) (planapplier.Result, error) {
	return a.Plans.Apply(ctx, changesetID, allowRebase, appliedBy, now)
}

// --- gates ------------------------------------------------------------

func (a *Application) CreateGateRule(ctx context.Context, r domain.GateRule, now time.Time) (domain.GateRule, error) {
	r.ID = newID()
	r.CreatedAt = now
	return a.Store.Gates().CreateRule(ctx, r)
}

func (a *Application) CreateGateDecision(ctx context.Context, projectID string, taskID, phaseID *string, outcome domain.GateOutcome, notes, decidedBy string, now time.Time) (domain.GateDecision, error) {
	return a.Gates.RecordDecision(ctx, projectID, taskID, phaseID, outcome, notes, decidedBy, now)
}

func (a *Application) ListGateDecisions(ctx context.Context, projectID string) ([]domain.GateDecision, error) {
	return a.Store.Gates().ListDecisions(ctx, projectID)
}

func (a *Application) EvaluateGatePolicies(ctx context.Context, projectID string, policy domain.GatePolicy, gateMilestoneID, createdBy string, now time.Time) ([]domain.Task, error) {
	return a.Gates.EvaluatePolicies(ctx, projectID, policy, gateMilestoneID, createdBy, now)
}

// --- artifacts ----------------------------------------------------------

func (a *Application) CreateArtifact(ctx context.Context, projectID, taskID string, kind domain.ArtifactKind, uri string, sha256 *string, createdBy string, now time.Time) (domain.Artifact, error) {
	var result domain.Artifact
	err := a.Store.Atomic(ctx, func(ctx context.Context) error {
		task, err := a.Store.Tasks().Get(ctx, taskID)
		if err != nil {
			return err
		}
		if task.ProjectID != projectID {
			return errs.ProjectMismatch()
		}
		artifact, err := a.Store.Artifacts().Create(ctx, domain.Artifact{
			ID:        newID(),
			ProjectID: projectID,
			TaskID:    taskID,
			Kind:      kind,
			URI:       uri,
			SHA256:    sha256,
			CreatedBy: createdBy,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if _, err := a.Store.Events().Append(ctx, domain.EventLog{
			ProjectID:  projectID,
			EntityType: "task",
			EntityID:   &taskID,
			EventType:  domain.EventArtifactCreated,
			Payload:    map[string]any{"artifact_id": artifact.ID, "kind": string(kind)},
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		result = artifact
		return nil
	})
	return result, err
}

func (a *Application) ListTaskArtifacts(ctx context.Context, taskID string) ([]domain.Artifact, error) {
	return a.Store.Artifacts().ListByTask(ctx, taskID)
}

// --- integration attempts -----------------------------------------------

func (a *Application) EnqueueIntegrationAttempt(ctx context.Context, projectID, taskID, createdBy string, now time.Time) (domain.IntegrationAttempt, error) {
	var result domain.IntegrationAttempt
	err := a.Store.Atomic(ctx, func(ctx context.Context) error {
		task, err := a.Store.Tasks().Get(ctx, taskID)
		if err != nil {
			return err
		}
		if task.ProjectID != projectID {
			return errs.ProjectMismatch()
		}
		attempt, err := a.Store.Integrations().Create(ctx, domain.IntegrationAttempt{
			ID:        newID(),
			ProjectID: projectID,
			TaskID:    taskID,
			Status:    domain.IntegrationQueued,
			CreatedBy: createdBy,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if _, err := a.Store.Events().Append(ctx, domain.EventLog{
			ProjectID:  projectID,
			EntityType: "task",
			EntityID:   &taskID,
			EventType:  domain.EventIntegrationAttemptEnqueued,
			Payload:    map[string]any{"integration_attempt_id": attempt.ID},
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		result = attempt
		return nil
	})
	return result, err
}

func (a *Application) UpdateIntegrationAttemptResult(ctx context.Context, id string, status domain.IntegrationStatus, resultPayload map[string]any, now time.Time) (domain.IntegrationAttempt, error) {
	var result domain.IntegrationAttempt
	err := a.Store.Atomic(ctx, func(ctx context.Context) error {
		if !status.Valid() {
			return errs.InvalidIntegrationResult(string(status))
		}
		attempt, err := a.Store.Integrations().Get(ctx, id)
		if err != nil {
			return err
		}
		attempt.Status = status
		attempt.ResultPayload = resultPayload
		attempt.CompletedAt = &now
		attempt, err = a.Store.Integrations().Update(ctx, attempt)
		if err != nil {
			return err
		}
		if _, err := a.Store.Events().Append(ctx, domain.EventLog{
			ProjectID:  attempt.ProjectID,
			EntityType: "task",
			EntityID:   &attempt.TaskID,
			EventType:  domain.EventIntegrationAttemptComplete,
			Payload:    map[string]any{"integration_attempt_id": attempt.ID, "status": string(status)},
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		result = attempt
		return nil
	})
	return result, err
}

func (a *Application) ListIntegrationAttempts(ctx context.Context, taskID string) ([]domain.IntegrationAttempt, error) {
	return a.Store.Integrations().ListByTask(ctx, taskID)
}

// --- api keys ------------------------------------------------------------

func (a *Application) CreateApiKey(ctx context.Context, projectID, name string, roles []domain.Role, capabilityTags []string, createdBy string, now time.Time) (domain.ApiKey, string, error) {
	for _, r := range roles {
		if !domain.ValidRole(r) {
			names := make([]string, len(roles))
			for i, rr := range roles {
				names[i] = string(rr)
			}
			return domain.ApiKey{}, "", errs.InvalidRoles(names)
		}
	}
	plaintext, hash, err := authkernel.GenerateToken()
	if err != nil {
		return domain.ApiKey{}, "", err
	}
	key, err := a.Store.ApiKeys().Create(ctx, domain.ApiKey{
		ID:             newID(),
		ProjectID:      projectID,
		Name:           name,
		Hash:           hash,
		Status:         domain.ApiKeyActive,
		RoleScopes:     roles,
		CapabilityTags: capabilityTags,
		CreatedBy:      createdBy,
		CreatedAt:      now,
	})
	if err != nil {
		return domain.ApiKey{}, "", err
	}
	return key, plaintext, nil
}

func (a *Application) ListApiKeys(ctx context.Context, projectID string) ([]domain.ApiKey, error) {
	return a.Store.ApiKeys().ListByProject(ctx, projectID)
}

func (a *Application) RevokeApiKey(ctx context.Context, id string, now time.Time) (domain.ApiKey, error) {
	var result domain.ApiKey
	err := a.Store.Atomic(ctx, func(ctx context.Context) error {
		key, err := a.Store.ApiKeys().Get(ctx, id)
		if err != nil {
			return err
		}
		key.Status = domain.ApiKeyRevoked
		key.RevokedAt = &now
		key, err = a.Store.ApiKeys().Update(ctx, key)
		if err != nil {
			return err
		}
		result = key
		return nil
	})
	return result, err
}
