package domain

// RequestScope names the object kind in db and get requests.
type RequestScope string

const (
	ScopeDomain  RequestScope = "domain"
	ScopeProject RequestScope = "project"
	ScopeUser    RequestScope = "user"
	ScopeLoop    RequestScope = "loop"
	ScopeRole    RequestScope = "role"
)
