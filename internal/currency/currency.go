// Package currency defines the currency set and the rules that govern it.
//
// The currency set is fixed for the lifetime of the process. Policy methods
// are pure functions over that configuration; the only mutable piece is the
// admin roster, which tracks who may grant admin-only currencies.
package currency

import (
	"fmt"

	"github.com/voxgames/voxbank/internal/platform/errors"
)

// ID identifies a currency.
type ID string

// The currencies the platform ships with.
const (
	Voxcoin ID = "voxcoin"
	Voxcent ID = "voxcent"
	TVCoin  ID = "tvcoin"
)

// Currency describes a single currency and its earning rules.
type Currency struct {
	ID           ID
	Name         string
	Earnable     bool  // auto-credited by chat activity
	AdminOnly    bool  // only grantable by privileged actors
	Transferable bool  // user-to-user transfers allowed
	EarnAmount   int64 // credited per qualifying message
	EarnMinLen   int   // minimum message length to qualify
}

// Policy answers questions about the configured currency set.
type Policy struct {
	currencies map[ID]Currency
	order      []ID
}

// NewPolicy builds a policy over a fixed currency set.
func NewPolicy(currencies []Currency) (*Policy, error) {
	if len(currencies) == 0 {
		return nil, fmt.Errorf("at least one currency is required")
	}

	byID := make(map[ID]Currency, len(currencies))
	order := make([]ID, 0, len(currencies))
	for _, c := range currencies {
		if c.ID == "" {
			return nil, fmt.Errorf("currency id is required")
		}
		if _, dup := byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate currency id %q", c.ID)
		}
		if c.Earnable && c.EarnAmount <= 0 {
			return nil, fmt.Errorf("earnable currency %q needs a positive earn amount", c.ID)
		}
		byID[c.ID] = c
		order = append(order, c.ID)
	}

	return &Policy{currencies: byID, order: order}, nil
}

// Defaults returns the platform's stock currency set: voxcoin (the main
// transferable currency, staked in games), voxcent (earned by chat
// activity) and tvcoin (admin-granted only).
func Defaults() []Currency {
	return []Currency{
		{ID: Voxcoin, Name: "Voxcoin", Transferable: true},
		{ID: Voxcent, Name: "Voxcent", Earnable: true, EarnAmount: 1, EarnMinLen: 11},
		{ID: TVCoin, Name: "TVcoin", AdminOnly: true},
	}
}

// Get returns the currency for id, or an UnknownCurrency error.
func (p *Policy) Get(id ID) (Currency, error) {
	c, ok := p.currencies[id]
	if !ok {
		return Currency{}, errors.WithMetadata(errors.CodeUnknownCurrency,
			fmt.Sprintf("unknown currency %q", id),
			map[string]string{"currency": string(id)})
	}
	return c, nil
}

// IDs returns the configured currency ids in declaration order.
func (p *Policy) IDs() []ID {
	out := make([]ID, len(p.order))
	copy(out, p.order)
	return out
}

// EarnRate returns the amount credited for a message of the given length.
// Non-earnable currencies always earn zero.
func (p *Policy) EarnRate(id ID, messageLength int) (int64, error) {
	c, err := p.Get(id)
	if err != nil {
		return 0, err
	}
	if !c.Earnable || messageLength < c.EarnMinLen {
		return 0, nil
	}
	return c.EarnAmount, nil
}

// CanTransfer reports whether user-to-user transfers are allowed for id.
func (p *Policy) CanTransfer(id ID) (bool, error) {
	c, err := p.Get(id)
	if err != nil {
		return false, err
	}
	return c.Transferable, nil
}

// CanAdminGrant reports whether actor may grant the currency. All grants
// require a privileged actor; the currency must exist.
func (p *Policy) CanAdminGrant(id ID, roster *Roster, actor string) (bool, error) {
	if _, err := p.Get(id); err != nil {
		return false, err
	}
	return roster.IsPrivileged(actor), nil
}

// Level maps a voxcoin balance to a player level between 1 and 10.
func Level(balance int64) int {
	thresholds := []int64{300, 500, 800, 1000, 1300, 1500, 1800, 2000, 5000}
	for i, limit := range thresholds {
		if balance < limit {
			return i + 1
		}
	}
	return 10
}
