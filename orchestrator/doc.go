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

// Package orchestrator is DocFlow's complexity-based routing engine for
// document operations.
//
// Every incoming request is assessed by the complexity analyzer, planned,
// and dispatched to one of three routers: lightweight for Simple requests,
// focused for Moderate ones, and full orchestration for Complex workflows
// with checkpoints, quality gates, and rollback. A performance monitor
// observes every outcome and feeds optimization recommendations back into
// the engine.
package orchestrator
