package cart

import "time"

// Status names a cart item state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPurchased Status = "purchased"
	StatusRemoved   Status = "removed"
	StatusExpired   Status = "expired"
)

// Reasons stamped on terminal transitions.
const (
	ReasonPurchased      = "purchased"
	ReasonRemovedByOwner = "removed_by_customer"
	ReasonIdleTimeout    = "idle_timeout"
)

// State is the lifecycle of a cart item. Only Active is mutable; every other
// state is terminal and carries the audit data of its transition.
type State interface {
	Status() Status
	isState()
}

// Active is the initial state.
type Active struct{}

// Purchased links the item to the order it settled into.
type Purchased struct {
	At      time.Time
	OrderID string
}

// Removed is a customer-initiated soft delete.
type Removed struct {
	At     time.Time
	Reason string
}

// Expired is a system-initiated soft delete.
type Expired struct {
	At     time.Time
	Reason string
}

func (Active) Status() Status    { return StatusActive }
func (Purchased) Status() Status { return StatusPurchased }
func (Removed) Status() Status   { return StatusRemoved }
func (Expired) Status() Status   { return StatusExpired }

func (Active) isState()    {}
func (Purchased) isState() {}
func (Removed) isState()   {}
func (Expired) isState()   {}

// StateFromRow rebuilds a State from its flattened storage columns.
func StateFromRow(status Status, at *time.Time, reason, orderID string) (State, error) {
	if status == StatusActive {
		return Active{}, nil
	}
	if at == nil {
		return nil, &InvalidStateError{Status: status}
	}
	switch status {
	case StatusPurchased:
		return Purchased{At: *at, OrderID: orderID}, nil
	case StatusRemoved:
		return Removed{At: *at, Reason: reason}, nil
	case StatusExpired:
		return Expired{At: *at, Reason: reason}, nil
	default:
		return nil, &InvalidStateError{Status: status}
	}
}
