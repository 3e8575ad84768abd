//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"encoding/json"
	"time"
)

// Outcome is the final verdict recorded for a request.
type Outcome string

// Outcomes.
const (
	Grant Outcome = "GRANT"
	Deny  Outcome = "DENY"
)

// Metadata identifies a record and carries deployment context resolved from the audit.env configuration.
type Metadata struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Principal is the subset of the caller recorded for audit.
type Principal struct {
	Subject string   `json:"subject"`
	Role    string   `json:"role,omitempty"`
	Teams   []string `json:"teams,omitempty"`
}

// AccessRecord is one audited decision.
type AccessRecord struct {
	Metadata    Metadata        `json:"metadata"`
	Principal   Principal       `json:"principal"`
	Operation   string          `json:"operation"`
	Resource    string          `json:"resource"`
	Sensitivity string          `json:"sensitivity,omitempty"`
	Decision    Outcome         `json:"decision"`
	Reason      string          `json:"reason,omitempty"`
	Violations  []string        `json:"violations,omitempty"`
	Cached      bool            `json:"cached"`
	LatencyUS   int64           `json:"latency_us"`
	Request     json.RawMessage `json:"request,omitempty"`
}
