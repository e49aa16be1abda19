package model

import "time"

type Plan struct {
	ID            int64     `db:"id"`
	Name          string    `db:"name"`
	Price         int64     `db:"price"`          // monthly charge, minor units
	DownloadSpeed int       `db:"download_speed"` // Mbps
	UploadSpeed   int       `db:"upload_speed"`   // Mbps
	DataLimit     *int64    `db:"data_limit"`     // bytes, nil = unlimited
	PPPProfile    string    `db:"ppp_profile"`    // device rate-limit profile name
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
