package pricing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iahome/access-gateway/internal/modules"
)

// DefaultCost applies to any (module, action) pair not present in the table.
// Callers rely on Cost never returning zero or missing, so lookups fail open
// on cost while entitlement checks stay strict.
const DefaultCost = 1

// Table maps (module, action) to an integer token cost. Loaded once per
// process; lookups have no side effects and cannot fail.
type Table struct {
	costs map[modules.ID]map[string]int64
}

// defaultCosts is the built-in pricing schedule shipped with the gateway.
var defaultCosts = map[modules.ID]map[string]int64{
	modules.MeTube: {
		"download": 3,
		"audio":    2,
		"playlist": 5,
	},
	modules.PDF: {
		"convert":  2,
		"merge":    1,
		"compress": 1,
		"ocr":      3,
	},
	modules.QRCode: {
		"generate": 1,
	},
	modules.Whisper: {
		"isolate":    5,
		"transcribe": 4,
	},
	modules.PhotoSearch: {
		"search": 2,
	},
	modules.RealEstate: {
		"search": 2,
		"alert":  1,
	},
}

// NewTable returns the built-in pricing schedule.
func NewTable() *Table {
	return &Table{costs: defaultCosts}
}

// LoadFile reads a YAML pricing schedule and merges it over the built-in
// defaults. Missing file is not an error. Entries with an unknown module or a
// non-positive cost are rejected so a typo cannot silently discount actions.
func LoadFile(path string) (*Table, error) {
	t := &Table{costs: make(map[modules.ID]map[string]int64, len(defaultCosts))}
	for id, actions := range defaultCosts {
		merged := make(map[string]int64, len(actions))
		for action, cost := range actions {
			merged[action] = cost
		}
		t.costs[id] = merged
	}
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var file map[string]map[string]int64
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}
	for rawID, actions := range file {
		id, err := modules.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("pricing file: %w", err)
		}
		if t.costs[id] == nil {
			t.costs[id] = make(map[string]int64, len(actions))
		}
		for action, cost := range actions {
			if cost < 1 {
				return nil, fmt.Errorf("pricing file: %s/%s has non-positive cost %d", id, action, cost)
			}
			t.costs[id][strings.ToLower(strings.TrimSpace(action))] = cost
		}
	}
	return t, nil
}

// Cost returns the token cost for an action. Unknown modules or actions cost
// DefaultCost; the result is always >= 1.
func (t *Table) Cost(module modules.ID, action string) int64 {
	actions, ok := t.costs[module]
	if !ok {
		return DefaultCost
	}
	cost, ok := actions[strings.ToLower(strings.TrimSpace(action))]
	if !ok {
		return DefaultCost
	}
	return cost
}

// ModuleCosts returns a copy of the schedule for one module, for the
// token-info endpoint.
func (t *Table) ModuleCosts(module modules.ID) map[string]int64 {
	actions, ok := t.costs[module]
	if !ok {
		return nil
	}
	out := make(map[string]int64, len(actions))
	for action, cost := range actions {
		out[action] = cost
	}
	return out
}

// Snapshot returns the full schedule keyed by module name.
func (t *Table) Snapshot() map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(t.costs))
	for id := range t.costs {
		out[string(id)] = t.ModuleCosts(id)
	}
	return out
}
