package memory

import (
	"context"

	"github.com/r3e-network/taskforge/internal/domain"
	"github.com/r3e-network/taskforge/pkg/errs"
)

type planStore Store

func (s *planStore) parent() *Store { return (*Store)(s) }

func (s *planStore) CurrentVersion(ctx context.Context, projectID string) (int64, error) {
	defer s.parent().lock(ctx)()
	var max int64
	for _, v := range s.parent().planVersions {
		if v.ProjectID == projectID && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max, nil
}

func (s *planStore) CreateVersion(ctx context.Context, v domain.PlanVersion) (domain.PlanVersion, error) {
	defer s.parent().lock(ctx)()
	if v.ID == "" {
		v.ID = newID()
	}
	s.parent().planVersions[v.ID] = v
	return v, nil
}

func (s *planStore) CreateChangeSet(ctx context.Context, cs domain.PlanChangeSet) (domain.PlanChangeSet, error) {
	defer s.parent().lock(ctx)()
	if cs.ID == "" {
		cs.ID = newID()
	}
	s.parent().changeSets[cs.ID] = cs
	return cs, nil
}

func (s *planStore) GetChangeSet(ctx context.Context, id string) (domain.PlanChangeSet, error) {
	defer s.parent().lock(ctx)()
	cs, ok := s.parent().changeSets[id]
	if !ok {
		return domain.PlanChangeSet{}, errs.ChangesetNotFound(id)
	}
	return cs, nil
}

func (s *planStore) UpdateChangeSet(ctx context.Context, cs domain.PlanChangeSet) (domain.PlanChangeSet, error) {
	defer s.parent().lock(ctx)()
	if _, ok := s.parent().changeSets[cs.ID]; !ok {
		return domain.PlanChangeSet{}, errs.ChangesetNotFound(cs.ID)
	}
	s.parent().changeSets[cs.ID] = cs
	return cs, nil
}

type snapshotStore Store

func (s *snapshotStore) parent() *Store { return (*Store)(s) }

func (s *snapshotStore) Create(ctx context.Context, snap domain.TaskExecutionSnapshot) (domain.TaskExecutionSnapshot, error) {
	defer s.parent().lock(ctx)()
	if snap.ID == "" {
		snap.ID = newID()
	}
	s.parent().snapshots[snap.ID] = snap
	return snap, nil
}

func (s *snapshotStore) GetByLease(ctx context.Context, leaseID string) (domain.TaskExecutionSnapshot, error) {
	defer s.parent().lock(ctx)()
	for _, snap := range s.parent().snapshots {
		if snap.LeaseID == leaseID {
			return snap, nil
		}
	}
	return domain.TaskExecutionSnapshot{}, errs.New(errs.CodeTaskNotFound, "snapshot not found for lease")
}
