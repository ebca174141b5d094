package models

import "time"

type Account struct {
	ID           int64     `json:"id"`
	ConnectionID int64     `json:"connection_id"`
	AccountID    string    `json:"account_id"`
	Name         string    `json:"name"`
	OfficialName string    `json:"official_name"`
	Mask         string    `json:"mask"`
	IBAN         string    `json:"-"`
	BIC          string    `json:"bic"`
	Currency     string    `json:"currency"`
	Type         string    `json:"type"`
	CreatedAt    time.Time `json:"created_at"`
}
