// state/state.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"realavanca_go_1/policy"
)

// StateManagerInterface defines the restart-state capabilities the
// orchestrator depends on. The interface decouples it from the file
// implementation for testing.
type StateManagerInterface interface {
	// GetFullState returns a deep copy of the persisted state for startup restore.
	GetFullState() AppState
	// UpdatePolicyTables replaces the persisted per-regime policy tables.
	UpdatePolicyTables(tables map[string]policy.Table) error
	// UpdateFrozenRegimes replaces the persisted frozen-regime set.
	UpdateFrozenRegimes(frozen map[string]string) error
	// UpdateScalpCooldowns replaces the persisted per-symbol cooldown deadlines.
	UpdateScalpCooldowns(cooldowns map[string]time.Time) error
}

// AppState is the top-level structure persisted to the state file. The
// persistence sink is best-effort, so this file is the recovery source of
// truth for learned policy across restarts.
type AppState struct {
	PolicyTables   map[string]policy.Table `json:"policy_tables"`
	FrozenRegimes  map[string]string       `json:"frozen_regimes"`
	ScalpCooldowns map[string]time.Time    `json:"scalp_cooldowns"`
	SavedAt        time.Time               `json:"saved_at"`
}

func newAppState() *AppState {
	return &AppState{
		PolicyTables:   make(map[string]policy.Table),
		FrozenRegimes:  make(map[string]string),
		ScalpCooldowns: make(map[string]time.Time),
	}
}

// StateManager is the file implementation of StateManagerInterface. Saves
// are atomic: write to a temp file, then rename over the target.
type StateManager struct {
	mu       sync.RWMutex
	filePath string
	state    *AppState
}

// NewStateManager loads existing state from filePath, or starts fresh (and
// creates the file) if none exists.
func NewStateManager(filePath string) (*StateManager, error) {
	sm := &StateManager{
		filePath: filePath,
		state:    newAppState(),
	}

	if err := sm.load(); err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("Info: State file not found at %s. Starting with a fresh state.\n", filePath)
			if err := sm.save(); err != nil {
				return nil, fmt.Errorf("failed to create initial empty state file: %w", err)
			}
			return sm, nil
		}
		return nil, fmt.Errorf("failed to load initial state: %w", err)
	}

	return sm, nil
}

func (sm *StateManager) save() error {
	sm.state.SavedAt = time.Now()
	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for saving: %w", err)
	}

	tmpFilePath := sm.filePath + ".tmp"
	if err := os.WriteFile(tmpFilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write to temporary state file: %w", err)
	}

	return os.Rename(tmpFilePath, sm.filePath)
}

func (sm *StateManager) load() error {
	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil // empty file is a valid fresh state
	}
	return json.Unmarshal(data, sm.state)
}

func (sm *StateManager) GetFullState() AppState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	copied := AppState{
		PolicyTables:   make(map[string]policy.Table, len(sm.state.PolicyTables)),
		FrozenRegimes:  make(map[string]string, len(sm.state.FrozenRegimes)),
		ScalpCooldowns: make(map[string]time.Time, len(sm.state.ScalpCooldowns)),
		SavedAt:        sm.state.SavedAt,
	}
	for regime, table := range sm.state.PolicyTables {
		copied.PolicyTables[regime] = table.Clone()
	}
	for k, v := range sm.state.FrozenRegimes {
		copied.FrozenRegimes[k] = v
	}
	for k, v := range sm.state.ScalpCooldowns {
		copied.ScalpCooldowns[k] = v
	}
	return copied
}

func (sm *StateManager) UpdatePolicyTables(tables map[string]policy.Table) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.PolicyTables = make(map[string]policy.Table, len(tables))
	for regime, table := range tables {
		sm.state.PolicyTables[regime] = table.Clone()
	}
	return sm.save()
}

func (sm *StateManager) UpdateFrozenRegimes(frozen map[string]string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.FrozenRegimes = frozen
	return sm.save()
}

func (sm *StateManager) UpdateScalpCooldowns(cooldowns map[string]time.Time) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state.ScalpCooldowns = cooldowns
	return sm.save()
}
