package model

import "time"

type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "ACTIVE"
	CustomerSuspended CustomerStatus = "SUSPENDED"
	CustomerDisabled  CustomerStatus = "DISABLED"
	CustomerPending   CustomerStatus = "PENDING"
)

func (s CustomerStatus) String() string { return string(s) }

func (s CustomerStatus) Valid() bool {
	switch s {
	case CustomerActive, CustomerSuspended, CustomerDisabled, CustomerPending:
		return true
	}
	return false
}

// StatusFromDisabled maps the device-side disabled flag onto a customer status.
func StatusFromDisabled(disabled bool) CustomerStatus {
	if disabled {
		return CustomerSuspended
	}
	return CustomerActive
}

type Customer struct {
	ID       int64          `db:"id"`
	Username string         `db:"username"`
	Password string         `db:"password"` // PPP password, mirrored to the device secret
	Name     string         `db:"name"`
	Email    string         `db:"email"`
	Phone    *string        `db:"phone"`
	Address  *string        `db:"address"`
	Status   CustomerStatus `db:"status"`
	Balance  int64          `db:"balance"` // minor units
	RouterID int64          `db:"router_id"`
	PlanID   int64          `db:"plan_id"`
	// PPPoESecret is the device-side secret id. Only provisioning and sync write it.
	PPPoESecret *string   `db:"pppoe_secret"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// DisplayName is the comment written onto the device secret.
func (c Customer) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Username
}

// SecretID returns the stored device secret id, or "" when not provisioned.
func (c Customer) SecretID() string {
	if c.PPPoESecret == nil {
		return ""
	}
	return *c.PPPoESecret
}

// CustomerSync carries the fields sync mirrors from a device secret onto an existing customer.
// Nil pointers leave the column untouched.
type CustomerSync struct {
	Password    *string
	Status      *CustomerStatus
	PPPoESecret *string
	PlanID      *int64
}

func (u CustomerSync) Empty() bool {
	return u.Password == nil && u.Status == nil && u.PPPoESecret == nil && u.PlanID == nil
}
