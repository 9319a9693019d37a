package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iahome/access-gateway/internal/modules"
)

// EventType names the billing and entitlement transitions the portal exports.
// Downstream systems (CRM syncs, upsell mailers, audit sinks) subscribe to
// these events to mirror account state.
type EventType string

const (
	// EventModuleActivated is emitted after a grant is created or reactivated.
	EventModuleActivated EventType = "portal.module.activated"
	// EventModuleDeactivated is emitted when an admin disables a grant.
	EventModuleDeactivated EventType = "portal.module.deactivated"
	// EventActionExecuted is emitted after a paid action completes and is billed.
	EventActionExecuted EventType = "portal.action.executed"
	// EventTokensGranted is emitted when a token package is credited.
	EventTokensGranted EventType = "portal.tokens.granted"
	// EventTokensDepleted is emitted when a debit leaves the balance at zero.
	EventTokensDepleted EventType = "portal.tokens.depleted"
)

// Event envelopes the concrete payload we broadcast to hook listeners.
type Event struct {
	ID         string         // globally unique event identifier
	Type       EventType      // transition identifier
	OccurredAt time.Time      // timestamp of emission
	UserID     string         // account associated with the event
	Module     modules.ID     // module scope, empty for account-level events
	Metadata   map[string]any // extensible JSON-friendly payload
}

// NewEvent builds an Event with a fresh identifier and timestamp.
func NewEvent(eventType EventType, userID string, module modules.ID, metadata map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		UserID:     userID,
		Module:     module,
		Metadata:   metadata,
	}
}

// Handler reacts to an Event. Implementations should be idempotent.
type Handler func(context.Context, Event) error

// Dispatcher coordinates handler registration and event fan-out.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

// Register adds a new handler. Handlers fire sequentially in registration
// order so operators can reason about side effects.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Emit delivers an event to all registered handlers. Errors are aggregated so
// callers can surface each failure in logs or telemetry.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ScriptConfig describes how to invoke an external command when events fire.
// This lets operators bridge billing events into external systems without
// waiting for native integrations.
type ScriptConfig struct {
	Command string            // required executable (absolute or PATH lookup)
	Args    []string          // static arguments passed to the executable
	Env     map[string]string // optional environment overrides
	Timeout time.Duration     // optional max execution time
}

// MarshalEvent converts an Event into the wire format presented to scripts.
// Packages embedding the dispatcher can override this variable to swap JSON
// for other encodings or to inject additional metadata.
var MarshalEvent = JSONMarshaler

// NewScriptHandler returns a Handler that pipes the marshalled event to a
// configured executable via STDIN. It is a bridge for the CLI/config layer.
func NewScriptHandler(cfg ScriptConfig) Handler {
	return func(parentCtx context.Context, evt Event) error {
		if cfg.Command == "" {
			return fmt.Errorf("hooks: command not configured")
		}

		payload, err := MarshalEvent(evt)
		if err != nil {
			return fmt.Errorf("hooks: marshal event: %w", err)
		}

		ctx := parentCtx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, cfg.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := cmd.Environ()
			for key, val := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", key, val))
			}
			cmd.Env = env
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("hooks: stdin pipe: %w", err)
		}

		go func() {
			defer stdin.Close()
			_, _ = stdin.Write(payload)
		}()

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hooks: command failed: %w", err)
		}

		return nil
	}
}

// JSONMarshaler serialises the event into a stable JSON envelope. It is
// provided as a reference implementation for callers that want a plug-and-play
// payload without writing their own MarshalEvent override.
func JSONMarshaler(evt Event) ([]byte, error) {
	envelope := struct {
		ID         string         `json:"id"`
		Type       EventType      `json:"type"`
		OccurredAt time.Time      `json:"occurred_at"`
		UserID     string         `json:"user_id"`
		Module     string         `json:"module_id"`
		Metadata   map[string]any `json:"metadata"`
	}{
		ID:         evt.ID,
		Type:       evt.Type,
		OccurredAt: evt.OccurredAt,
		UserID:     evt.UserID,
		Module:     string(evt.Module),
		Metadata:   evt.Metadata,
	}
	return json.Marshal(envelope)
}
