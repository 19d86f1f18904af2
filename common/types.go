package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrUnknownRole = errors.New("unknown role")
)

// Identity is the opaque caller reference used as the key for roles and as
// provider ownership.
type Identity string

// Anonymous is the identity of a caller that presented no credentials.
const Anonymous Identity = ""

func (i Identity) String() string {
	if i == Anonymous {
		return "anonymous"
	}
	return string(i)
}

// Role is a single authorization bit.
type Role uint8

const (
	RoleAdmin Role = 1 << iota
	RoleRelay
	RoleRegisterProvider
	RoleFreeRelay
)

// AllRoles lists every role in bit order.
var AllRoles = []Role{RoleAdmin, RoleRelay, RoleRegisterProvider, RoleFreeRelay}

var roleNames = map[Role]string{
	RoleAdmin:            "Admin",
	RoleRelay:            "Relay",
	RoleRegisterProvider: "RegisterProvider",
	RoleFreeRelay:        "FreeRelay",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// ParseRole accepts the role name in any letter case, e.g. "relay" or "FreeRelay".
func ParseRole(s string) (Role, error) {
	for role, name := range roleNames {
		if strings.EqualFold(name, s) {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) MarshalText() ([]byte, error) {
	if _, ok := roleNames[r]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// RoleSet is the stored bit set of roles for one identity.
type RoleSet uint8

func (s RoleSet) Has(r Role) bool {
	return uint8(s)&uint8(r) != 0
}

// With OR-merges r into the set.
func (s RoleSet) With(r Role) RoleSet {
	return s | RoleSet(r)
}

func (s RoleSet) Roles() []Role {
	roles := make([]Role, 0, len(AllRoles))
	for _, r := range AllRoles {
		if s.Has(r) {
			roles = append(roles, r)
		}
	}
	return roles
}

// Provider is a registered upstream endpoint with its own fee schedule and
// the cycles accrued for it by relays.
type Provider struct {
	ProviderID           uint64       `json:"provider_id"`
	Owner                Identity     `json:"owner"`
	ChainID              uint64       `json:"chain_id"`
	ServiceURL           string       `json:"service_url"`
	APIKey               string       `json:"api_key"`
	CyclesPerCall        uint64       `json:"cycles_per_call"`
	CyclesPerMessageByte uint64       `json:"cycles_per_message_byte"`
	CyclesOwed           *uint256.Int `json:"cycles_owed"`
}

// TargetURL is the URL a relay is forwarded to: the service url with the
// secret key appended.
func (p *Provider) TargetURL() string {
	return p.ServiceURL + p.APIKey
}

func (p *Provider) Summary() ProviderSummary {
	owed := "0"
	if p.CyclesOwed != nil {
		owed = p.CyclesOwed.Dec()
	}
	return ProviderSummary{
		ProviderID:           p.ProviderID,
		Owner:                p.Owner,
		ChainID:              p.ChainID,
		ServiceURL:           p.ServiceURL,
		CyclesPerCall:        p.CyclesPerCall,
		CyclesPerMessageByte: p.CyclesPerMessageByte,
		CyclesOwed:           owed,
	}
}

// ProviderSummary is the public view of a Provider. It never carries the key.
type ProviderSummary struct {
	ProviderID           uint64   `json:"provider_id"`
	Owner                Identity `json:"owner"`
	ChainID              uint64   `json:"chain_id"`
	ServiceURL           string   `json:"service_url"`
	CyclesPerCall        uint64   `json:"cycles_per_call"`
	CyclesPerMessageByte uint64   `json:"cycles_per_message_byte"`
	CyclesOwed           string   `json:"cycles_owed"`
}

// Metadata is the singleton record holding the provider id counter.
type Metadata struct {
	NextProviderID uint64 `json:"next_provider_id"`
}
