package entities

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Caller is the identity resolved by the access guard for a request.
type Caller struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

func (c Caller) Owns(o *Order) bool {
	return o != nil && c.ID != "" && c.ID == o.UserID
}
