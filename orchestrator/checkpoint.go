// Copyright 2025 DocFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CheckpointManager owns the checkpoints of a single workflow run. The log
// is append-only; rollback consumes the most recent checkpoint first. The
// manager dies with the run.
type CheckpointManager struct {
	mu          sync.Mutex
	checkpoints []ExecutionCheckpoint
}

// NewCheckpointManager creates an empty checkpoint log for one run.
func NewCheckpointManager() *CheckpointManager {
	return &CheckpointManager{}
}

// Create snapshots the current state and appends a checkpoint.
func (m *CheckpointManager) Create(kind CheckpointKind, state TaskState, completed []string) ExecutionCheckpoint {
	checkpoint := ExecutionCheckpoint{
		ID:                 uuid.NewString(),
		Kind:               kind,
		Timestamp:          time.Now(),
		State:              state.Clone(),
		CompletedExecutors: append([]string(nil), completed...),
	}

	m.mu.Lock()
	m.checkpoints = append(m.checkpoints, checkpoint)
	m.mu.Unlock()

	return checkpoint
}

// Count returns how many checkpoints have been created for the run.
func (m *CheckpointManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.checkpoints)
}

// Latest returns the most recent checkpoint without consuming it.
func (m *CheckpointManager) Latest() (*ExecutionCheckpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.checkpoints) == 0 {
		return nil, false
	}
	cp := m.checkpoints[len(m.checkpoints)-1]
	return &cp, true
}

// Rollback consumes the most recent checkpoint and restores the shared state
// to its snapshot. Returns the consumed checkpoint.
func (m *CheckpointManager) Rollback(state TaskState) (*ExecutionCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.checkpoints) == 0 {
		return nil, fmt.Errorf("%w: rollback requested with empty log", ErrNoCheckpoint)
	}

	cp := m.checkpoints[len(m.checkpoints)-1]
	m.checkpoints = m.checkpoints[:len(m.checkpoints)-1]

	for key := range state {
		delete(state, key)
	}
	for key, value := range cp.State {
		state[key] = value
	}

	return &cp, nil
}
