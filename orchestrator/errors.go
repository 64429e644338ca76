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

import "errors"

// Failure taxonomy. Every failure is normalized into the OperationResult's
// error/warnings fields at the component boundary; these sentinels classify
// it on the way there.
var (
	// ErrValidation marks a malformed request or document context.
	ErrValidation = errors.New("validation error")

	// ErrResourceLimit marks an admission-control rejection before execution.
	ErrResourceLimit = errors.New("resource limit exceeded")

	// ErrExecutorFailure marks a task executor that returned success=false
	// or panicked.
	ErrExecutorFailure = errors.New("executor failure")

	// ErrQualityGate marks a stage gate that rejected an executor.
	ErrQualityGate = errors.New("quality gate failure")

	// ErrGroupTimeout marks a parallel group that exceeded its bound.
	ErrGroupTimeout = errors.New("group timeout")

	// ErrRollbackFailed marks a checkpoint restore that could not complete.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrNoCheckpoint is returned when rollback is requested but no
	// checkpoint exists for the run.
	ErrNoCheckpoint = errors.New("no checkpoint available")

	// ErrUnknownExecutor marks a plan that references an unregistered
	// executor id.
	ErrUnknownExecutor = errors.New("unknown executor")

	// ErrAdvisorUnavailable is returned by advisors that have no live
	// backing service. The analyzer treats it as "no second opinion".
	ErrAdvisorUnavailable = errors.New("complexity advisor unavailable")
)
