package ledger

// Role identifies a member's tier within a group. Roles form a fixed total
// order used for rank comparisons: owner > co-owner > admin > mod > member.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleCoOwner Role = "co-owner"
	RoleAdmin   Role = "admin"
	RoleMod     Role = "mod"
	RoleMember  Role = "member"
)

var roleRanks = map[Role]int{
	RoleOwner:   4,
	RoleCoOwner: 3,
	RoleAdmin:   2,
	RoleMod:     1,
	RoleMember:  0,
}

// Rank returns the numeric rank of the role. Unknown roles rank below member.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}

	return rank
}

// Outranks reports whether r is strictly higher in the role order than other.
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}

// IsValid reports whether r is one of the five known roles.
func (r Role) IsValid() bool {
	_, ok := roleRanks[r]
	return ok
}
