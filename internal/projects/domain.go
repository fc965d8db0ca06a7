// Package projects implements project records with a purely role-based
// authority: no ownership exceptions, just the hierarchy.
package projects

import (
	"time"

	"github.com/opsdeck/opsdeck/internal/identity"
)

// Project is a unit of planned work grouping tickets and assets.
type Project struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Lead        identity.Actor `json:"lead"`
	Archived    bool           `json:"archived"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Member is one user attached to a project.
type Member struct {
	ProjectID int64          `json:"project_id"`
	User      identity.Actor `json:"user"`
	AddedAt   time.Time      `json:"added_at"`
}
