package models

import "time"

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID          int        `json:"id" example:"1"`                          // User ID
	Email       string     `json:"email" example:"user@example.com"`        // User email
	Name        string     `json:"name" example:"Faisal Alotaibi"`          // Display name
	PhoneNumber string     `json:"phoneNumber" example:"+966501234567"`     // Phone number
	Role        string     `json:"role" example:"user"`                     // user or admin
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
