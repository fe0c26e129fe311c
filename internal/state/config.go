package state

import (
	"github.com/google/uuid"

	"zyura/internal/ledger"
)

// Role names a capability the protocol checks before privileged operations.
type Role int32

const (
	RoleProductAdmin Role = iota
	RolePauseAdmin
	RolePayoutAuthority
	RoleWithdrawalApprover
)

func (r Role) String() string {
	switch r {
	case RoleProductAdmin:
		return "ProductAdmin"
	case RolePauseAdmin:
		return "PauseAdmin"
	case RolePayoutAuthority:
		return "PayoutAuthority"
	case RoleWithdrawalApprover:
		return "WithdrawalApprover"
	default:
		return "Unknown"
	}
}

// ParseRole maps a wire-level role name to its Role value.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "ProductAdmin":
		return RoleProductAdmin, true
	case "PauseAdmin":
		return RolePauseAdmin, true
	case "PayoutAuthority":
		return RolePayoutAuthority, true
	case "WithdrawalApprover":
		return RoleWithdrawalApprover, true
	default:
		return 0, false
	}
}

// Config is the protocol singleton. It exists (Initialized=true) after the
// one-time Initialize command and is destroyed again by CloseConfig.
type Config struct {
	Initialized     bool
	Admin           uuid.UUID
	SettlementAsset ledger.AssetID
	OracleSource    string
	Paused          bool

	// Capability grants. A role absent from the map resolves to the admin.
	roles map[Role]uuid.UUID
}

func NewConfig() *Config {
	return &Config{roles: make(map[Role]uuid.UUID)}
}

// Initialize records the protocol parameters. Callers must check
// Initialized before invoking.
func (c *Config) Initialize(admin uuid.UUID, asset ledger.AssetID, oracleSource string) {
	c.Initialized = true
	c.Admin = admin
	c.SettlementAsset = asset
	c.OracleSource = oracleSource
	c.Paused = false
	c.roles = make(map[Role]uuid.UUID)
}

// Close tears the singleton down. All role grants are discarded.
func (c *Config) Close() {
	c.Initialized = false
	c.Admin = uuid.Nil
	c.SettlementAsset = 0
	c.OracleSource = ""
	c.Paused = false
	c.roles = make(map[Role]uuid.UUID)
}

// Holder returns the identity currently holding the role. Roles not
// explicitly assigned fall back to the admin.
func (c *Config) Holder(role Role) uuid.UUID {
	if id, ok := c.roles[role]; ok {
		return id
	}
	return c.Admin
}

// AssignRole grants a capability to an identity. Assigning the admin's own
// identity clears the explicit grant so the role tracks future admin changes.
func (c *Config) AssignRole(role Role, holder uuid.UUID) {
	if holder == c.Admin {
		delete(c.roles, role)
		return
	}
	c.roles[role] = holder
}

// Roles returns a copy of the explicit grants, for snapshots.
func (c *Config) Roles() map[Role]uuid.UUID {
	out := make(map[Role]uuid.UUID, len(c.roles))
	for r, id := range c.roles {
		out[r] = id
	}
	return out
}

// RestoreRoles replaces the grant table, for snapshot recovery.
func (c *Config) RestoreRoles(roles map[Role]uuid.UUID) {
	c.roles = make(map[Role]uuid.UUID, len(roles))
	for r, id := range roles {
		c.roles[r] = id
	}
}
