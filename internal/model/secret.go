package model

import "time"

// Secret is a device-owned PPP secret as reported by the router.
type Secret struct {
	ID       string `json:"id"`
	Name     string `json:"name"` // customer username
	Password string `json:"password"`
	Service  string `json:"service"`
	Profile  string `json:"profile"` // plan ppp profile
	CallerID string `json:"caller_id"`
	Disabled bool   `json:"disabled"`
	Comment  string `json:"comment"`
}

// SecretSpec is what provisioning asks the device to create.
type SecretSpec struct {
	Name     string
	Password string
	Service  string
	Profile  string
	Disabled bool
	Comment  string
}

// SecretUpdate is a partial secret update; nil fields are left alone.
type SecretUpdate struct {
	Name     *string
	Password *string
	Profile  *string
	Disabled *bool
	Comment  *string
}

// Session is a live PPP connection reported by the device.
type Session struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Service    string `json:"service"`
	CallerID   string `json:"caller_id"`
	Address    string `json:"address"`
	Uptime     string `json:"uptime"`
	Encoding   string `json:"encoding"`
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`
	PacketsIn  uint64 `json:"packets_in"`
	PacketsOut uint64 `json:"packets_out"`
}

// SessionSample is one session row stored for usage reporting.
type SessionSample struct {
	RouterID  int64     `db:"router_id" json:"router_id"`
	Username  string    `db:"username" json:"username"`
	Address   string    `db:"address" json:"address"`
	CallerID  string    `db:"caller_id" json:"caller_id"`
	Uptime    string    `db:"uptime" json:"uptime"`
	BytesIn   uint64    `db:"bytes_in" json:"bytes_in"`
	BytesOut  uint64    `db:"bytes_out" json:"bytes_out"`
	SampledAt time.Time `db:"sampled_at" json:"sampled_at"`
}
