package models

import "time"

type AuditEvent struct {
	ID           string                 `json:"id"`
	ActionType   string                 `json:"action_type"`
	Result       string                 `json:"result"`
	UserID       int64                  `json:"user_id"`
	ConnectionID int64                  `json:"connection_id,omitempty"`
	Details      map[string]interface{} `json:"sanitized_details"`
	Timestamp    time.Time              `json:"timestamp"`
}
