package models

import "time"

type Account struct {
	AccountID    string    `json:"account_id"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	ClinicID     string    `json:"clinic_id,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Patient struct {
	PatientID string    `json:"patient_id"`
	AccountID string    `json:"account_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
