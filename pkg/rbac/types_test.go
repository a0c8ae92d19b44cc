package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionValid(t *testing.T) {
	for _, action := range Actions() {
		assert.True(t, action.Valid(), "action %s should be valid", action)
	}

	assert.False(t, Action("execute").Valid())
	assert.False(t, Action("READ").Valid(), "actions are case-sensitive")
	assert.False(t, Action("").Valid())
}

func TestRequirementString(t *testing.T) {
	req := Requirement{Action: ActionRead, Resource: ResourceUsers}
	assert.Equal(t, "users:read", req.String())
}

func TestSessionExpired(t *testing.T) {
	now := time.Now().UTC()
	session := Session{ExpiresAt: now.Add(time.Hour)}

	assert.False(t, session.Expired(now))
	assert.True(t, session.Expired(now.Add(2*time.Hour)))
	assert.True(t, session.Expired(session.ExpiresAt), "expiry instant counts as expired")
}
