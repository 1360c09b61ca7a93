package models

import (
	"time"

	"github.com/google/uuid"
)

// DecisionEffect mirrors the effect of an authorization decision
type DecisionEffect string

const (
	DecisionAllow DecisionEffect = "Allow"
	DecisionDeny  DecisionEffect = "Deny"
)

// DecisionLog is an audit trail entry for one authorization decision
type DecisionLog struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Effect      DecisionEffect `json:"effect" db:"effect"`
	PrincipalID string         `json:"principal_id" db:"principal_id"`
	Resource    string         `json:"resource" db:"resource"`
	Reason      string         `json:"reason,omitempty" db:"reason"`
	KeyID       string         `json:"key_id,omitempty" db:"key_id"`
	Issuer      string         `json:"issuer,omitempty" db:"issuer"`
	RequestID   string         `json:"request_id" db:"request_id"`
	IPAddress   string         `json:"ip_address" db:"ip_address"`
	UserAgent   string         `json:"user_agent" db:"user_agent"`
	Timestamp   time.Time      `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the DecisionLog model
func (DecisionLog) TableName() string {
	return "authorization_decisions"
}

// NewDecisionLog creates a new DecisionLog instance
func NewDecisionLog(effect DecisionEffect, principalID, resource string) *DecisionLog {
	return &DecisionLog{
		ID:          uuid.New(),
		Effect:      effect,
		PrincipalID: principalID,
		Resource:    resource,
		Timestamp:   time.Now().UTC(),
	}
}

// WithReason sets the rejection reason
func (d *DecisionLog) WithReason(reason string) *DecisionLog {
	d.Reason = reason
	return d
}

// WithToken sets the key ID and issuer of the verified token
func (d *DecisionLog) WithToken(keyID, issuer string) *DecisionLog {
	d.KeyID = keyID
	d.Issuer = issuer
	return d
}

// WithRequest sets request metadata
func (d *DecisionLog) WithRequest(requestID, ipAddress, userAgent string) *DecisionLog {
	d.RequestID = requestID
	d.IPAddress = ipAddress
	d.UserAgent = userAgent
	return d
}

// Allowed reports whether the logged decision granted access
func (d *DecisionLog) Allowed() bool {
	return d.Effect == DecisionAllow
}
