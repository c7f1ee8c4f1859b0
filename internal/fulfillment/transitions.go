package fulfillment

import (
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Action names an operation of the sub-order lifecycle. It doubles as the
// metrics label.
type Action string

const (
	ActionConfirm          Action = "confirm"
	ActionClaim            Action = "claim"
	ActionComplete         Action = "complete"
	ActionCancelByCustomer Action = "cancel_by_customer"
	ActionCancelByShipper  Action = "cancel_by_shipper"
	ActionListClaimable    Action = "list_claimable"
)

type edge struct {
	from, to enums.OrderStatus
}

// transitions is the complete sub-order state machine. Anything not listed
// is illegal; delivered and cancelled have no outgoing edges.
var transitions = map[Action]edge{
	ActionConfirm:          {from: enums.OrderStatusPending, to: enums.OrderStatusProcessing},
	ActionClaim:            {from: enums.OrderStatusProcessing, to: enums.OrderStatusShipped},
	ActionComplete:         {from: enums.OrderStatusShipped, to: enums.OrderStatusDelivered},
	ActionCancelByCustomer: {from: enums.OrderStatusPending, to: enums.OrderStatusCancelled},
	ActionCancelByShipper:  {from: enums.OrderStatusShipped, to: enums.OrderStatusCancelled},
}

// CanTransition reports whether some action moves a sub-order from -> to.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, e := range transitions {
		if e.from == from && e.to == to {
			return true
		}
	}
	return false
}

// Edge returns the source and target states of action.
func Edge(action Action) (from, to enums.OrderStatus, ok bool) {
	e, ok := transitions[action]
	return e.from, e.to, ok
}
