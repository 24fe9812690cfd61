package auction

import "github.com/Martin-Hayot/bidding-engine/pkg/types"

// CanBid reports whether a role is allowed to place bids. Producers sell and
// admins arbitrate; neither competes in auctions. Admission logic stays
// role-agnostic by consulting only this predicate.
func CanBid(role types.Role) bool {
	switch role {
	case types.RoleDistributor, types.RoleInvestor:
		return true
	default:
		return false
	}
}
