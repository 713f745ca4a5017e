/*
 * Copyright 2026 StageCrew Systems, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package lifecycle

import (
	"errors"
	"fmt"

	"github.com/stagecrew/micmon/pkg/models"
)

// ErrUnknownState indicates a transition request naming a state outside the
// lifecycle enumeration.
var ErrUnknownState = errors.New("unknown lifecycle state")

// InvalidTransitionError is returned when a requested state change is not in
// the transition table. The stored state is unchanged.
type InvalidTransitionError struct {
	CanonicalID string
	From        models.LifecycleState
	To          models.LifecycleState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for device %s: %s -> %s", e.CanonicalID, e.From, e.To)
}

// Is makes all invalid-transition errors match each other for errors.Is
// checks against a zero-value target.
func (e *InvalidTransitionError) Is(target error) bool {
	_, ok := target.(*InvalidTransitionError)
	return ok
}
