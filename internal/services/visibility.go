package services

import "github.com/moorlabs/driftsync/internal/models"

// Scopes partition entity types into independently-cursored pull streams.
const (
	ScopeContent  = "content"
	ScopeProfile  = "profile"
	ScopeProgress = "progress"
)

// DefaultScopes maps each scope to the entity types it carries. Entity types
// absent from every scope ride in ScopeContent, the catch-all for opaque
// entity data.
var DefaultScopes = map[string][]string{
	ScopeContent:  {"lesson", "quiz", "asset"},
	ScopeProfile:  {"profile", "note"},
	ScopeProgress: {"progress", "attempt"},
}

// userOwnedTypes are entity types whose entries belong to a single user;
// non-privileged callers only see their own.
var userOwnedTypes = map[string]bool{
	"profile":  true,
	"note":     true,
	"progress": true,
	"attempt":  true,
}

// VisibilityFilter decides whether a change-log entry is visible to a caller.
// Entries filtered out are durably skipped for that caller's cursor; they
// were never owed to it.
type VisibilityFilter func(caller models.Caller, entry *models.ChangeLogEntry) bool

// DefaultVisibility: admins and teachers see every entry in the tenant;
// students see shared entity types plus their own user-owned entries.
func DefaultVisibility(caller models.Caller, entry *models.ChangeLogEntry) bool {
	switch caller.Role {
	case models.RoleAdmin, models.RoleTeacher:
		return true
	}
	if !userOwnedTypes[entry.EntityType] {
		return true
	}
	owner, _ := entry.Data["userId"].(string)
	return owner != "" && owner == caller.UserID
}

// scopeFor returns the scope an entity type rides in.
func scopeFor(scopes map[string][]string, entityType string) string {
	for scope, types := range scopes {
		for _, t := range types {
			if t == entityType {
				return scope
			}
		}
	}
	return ScopeContent
}
