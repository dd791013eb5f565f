// Package domain defines the entity types persisted and manipulated by the
// orchestrator core. Types here carry no store or transport dependency;
// they are plain data, matching the "typed request/response" discipline.
package domain

import "time"

// ProjectStatus enumerates the lifecycle of a Project. Projects are never
// deleted, only archived.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectPaused   ProjectStatus = "paused"
	ProjectArchived ProjectStatus = "archived"
)

// Project is the root of all tenancy. Every other entity is owned,
// transitively, by exactly one Project.
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Phase is a top-level grouping of work within a Project.
type Phase struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Milestone is a sub-grouping within a Phase. A Milestone always has a
// Phase parent.
type Milestone struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	PhaseID   string    `json:"phase_id"`
	Name      string    `json:"name"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
