package models

// CheckpointKey addresses one device's cursor into a tenant's change log for
// one scope. Two devices of the same user never share a key.
type CheckpointKey struct {
	TenantID string
	UserID   string
	DeviceID string
	Scope    string
}

// Caller identifies the authenticated principal on a sync request. The
// visibility filter and checkpoint keys are derived from it.
type Caller struct {
	TenantID string
	UserID   string
	DeviceID string
	Role     string
}

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// CheckpointFor builds the caller's checkpoint key for a scope.
func (c Caller) CheckpointFor(scope string) CheckpointKey {
	return CheckpointKey{
		TenantID: c.TenantID,
		UserID:   c.UserID,
		DeviceID: c.DeviceID,
		Scope:    scope,
	}
}
