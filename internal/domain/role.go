package domain

type RoleID string

// Role is one permission role the user may authorize on a connection.
type Role struct {
	ID   RoleID `json:"id"`
	Name string `json:"name,omitempty"`
}

func (r Role) String() string {
	if r.Name != "" && r.Name != string(r.ID) {
		return string(r.ID) + " (" + r.Name + ")"
	}
	return string(r.ID)
}

// ParseRoles accepts the user_roles payload as either a list of ids or
// role objects, or a map keyed by role id.
func ParseRoles(raw any) []Role {
	var out []Role
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if r, ok := roleFrom("", item); ok {
				out = append(out, r)
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(v) {
			if r, ok := roleFrom(k, v[k]); ok {
				out = append(out, r)
			}
		}
	}
	return out
}

func roleFrom(key string, item any) (Role, bool) {
	switch v := item.(type) {
	case string:
		if key != "" {
			return Role{ID: RoleID(key), Name: v}, true
		}
		return Role{ID: RoleID(v)}, v != ""
	case map[string]any:
		r := Role{ID: RoleID(key)}
		if id, ok := v["id"].(string); ok && id != "" {
			r.ID = RoleID(id)
		}
		r.Name, _ = v["name"].(string)
		return r, r.ID != ""
	default:
		if key != "" {
			return Role{ID: RoleID(key)}, true
		}
	}
	return Role{}, false
}
