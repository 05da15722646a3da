package models

import "time"

type User struct {
	ID            string     `json:"id" example:"8f14e45f-ceea-467f-a1d2-91b2c3d4e5f6"` // User ID
	Email         string     `json:"email" example:"user@example.com"`                  // User email
	FirstName     string     `json:"FirstName" example:"John"`                          // User first name
	LastName      string     `json:"LastName" example:"Doe"`                            // User last name
	WalletAddress string     `json:"walletAddress" example:"0x9a1b2c3d4e5f60718293a4b5c6d7e8f901234567"`
	Role          string     `json:"role" example:"user"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
