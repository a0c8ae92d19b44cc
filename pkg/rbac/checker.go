package rbac

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Checker evaluates a route's declared Requirement against a resolved user.
// Matching is exact-string and case-sensitive: update does not imply read, and
// there are no wildcard or hierarchy semantics.
type Checker struct{}

// NewChecker creates a new permission checker
func NewChecker() *Checker {
	return &Checker{}
}

// Check decides whether user may perform req. The user must carry its resolved
// role and permission set; a nil role or empty set is always a denial.
func (c *Checker) Check(user *User, req Requirement) Decision {
	if user == nil {
		return Decision{Allowed: false, Reason: "no authenticated user"}
	}
	if user.Role == nil || len(user.Role.Permissions) == 0 {
		return Decision{Allowed: false, Reason: "user has no role or the role holds no permissions"}
	}
	for _, p := range user.Role.Permissions {
		if p.Action == req.Action && p.Resource == req.Resource {
			return Decision{Allowed: true, Reason: "granted by role " + user.Role.Name}
		}
	}
	return Decision{Allowed: false, Reason: "role " + user.Role.Name + " does not grant " + req.String()}
}
