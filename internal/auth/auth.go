// Package auth tracks who may do what: the contract owner, per-trader
// operator delegations, the order sender allowlist, and the funding rate
// keeper. Callers present a Context naming the acting address; checks return
// INVALID_AUTHORIZATION (or an operation-specific code at the call site).
package auth

import (
	"fmt"
	"strings"

	"PerpDealer/internal/errs"
)

// Context identifies the caller of a privileged operation.
type Context struct {
	Caller string
}

// Ctx is shorthand for building a Context from an address.
func Ctx(caller string) Context {
	return Context{Caller: Normalize(caller)}
}

// Normalize lower-cases an address so lookups and comparisons are
// case-insensitive, matching checksummed and plain hex forms.
func Normalize(addr string) string {
	return strings.ToLower(addr)
}

// Registry holds the mutable authorization state.
type Registry struct {
	owner         string
	fundingKeeper string
	orderSenders  map[string]bool
	operators     map[string]map[string]bool
}

func NewRegistry(owner string) *Registry {
	return &Registry{
		owner:        Normalize(owner),
		orderSenders: make(map[string]bool),
		operators:    make(map[string]map[string]bool),
	}
}

// RequireOwner gates owner-only operations.
func (r *Registry) RequireOwner(ctx Context) error {
	if Normalize(ctx.Caller) != r.owner {
		return fmt.Errorf("caller %s is not the owner: %w", ctx.Caller, errs.ErrInvalidAuthorization)
	}
	return nil
}

// TransferOwnership hands the owner role to a new address.
func (r *Registry) TransferOwnership(ctx Context, newOwner string) error {
	if err := r.RequireOwner(ctx); err != nil {
		return err
	}
	r.owner = Normalize(newOwner)
	return nil
}

// SetFundingKeeper designates the only address allowed to push funding rates.
func (r *Registry) SetFundingKeeper(ctx Context, keeper string) error {
	if err := r.RequireOwner(ctx); err != nil {
		return err
	}
	r.fundingKeeper = Normalize(keeper)
	return nil
}

func (r *Registry) IsFundingKeeper(addr string) bool {
	return r.fundingKeeper != "" && Normalize(addr) == r.fundingKeeper
}

// SetOrderSender adds or removes an address from the order sender allowlist.
func (r *Registry) SetOrderSender(ctx Context, sender string, valid bool) error {
	if err := r.RequireOwner(ctx); err != nil {
		return err
	}
	r.orderSenders[Normalize(sender)] = valid
	return nil
}

func (r *Registry) IsOrderSender(addr string) bool {
	return r.orderSenders[Normalize(addr)]
}

// SetOperator records trader's delegation to operator. An approved operator
// may sign orders and trigger liquidations on the trader's behalf.
func (r *Registry) SetOperator(trader, operator string, approved bool) {
	trader = Normalize(trader)
	ops := r.operators[trader]
	if ops == nil {
		ops = make(map[string]bool)
		r.operators[trader] = ops
	}
	ops[Normalize(operator)] = approved
}

// CanActFor reports whether actor is trader itself or an approved operator.
func (r *Registry) CanActFor(actor, trader string) bool {
	actor, trader = Normalize(actor), Normalize(trader)
	if actor == trader {
		return true
	}
	return r.operators[trader][actor]
}
