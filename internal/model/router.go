package model

import (
	"strconv"
	"time"
)

// Router is one access-control device.
type Router struct {
	ID         int64      `db:"id"`
	Name       string     `db:"name"`
	Host       string     `db:"host"`
	Port       int        `db:"port"`
	Username   string     `db:"username"`
	Password   string     `db:"password" json:"-"`
	IsActive   bool       `db:"is_active"`
	LastSyncAt *time.Time `db:"last_sync_at"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

// DeviceID is the identity used to key cached device reads.
func (r Router) DeviceID() string {
	return "router-" + strconv.FormatInt(r.ID, 10)
}
