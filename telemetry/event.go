/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package telemetry

import (
	"time"

	"github.com/go-openapi/strfmt"
)

// ContextData is the static part of an event: where the operation ran.
type ContextData struct {
	Server     string `json:"server"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
	EntityType string `json:"entityType"`
}

// ActionData describes one executed operation.
type ActionData struct {
	Operation string         `json:"operation"`
	Elapsed   time.Duration  `json:"elapsed"`
	ItemCount int            `json:"itemCount"`
	Err       error          `json:"-"`
	Data      map[string]any `json:"data,omitempty"`
}

// ActionEvent is emitted for every operation, whether it succeeded or failed.
type ActionEvent struct {
	Action    ActionData      `json:"action"`
	Context   ContextData     `json:"context"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// Failed reports whether the operation returned an error.
func (e ActionEvent) Failed() bool {
	return e.Action.Err != nil
}
