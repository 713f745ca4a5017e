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
	"github.com/looplab/fsm"

	"github.com/stagecrew/micmon/pkg/models"
)

// One event per target state; the Src lists are the transition table.
// RETIRED is reachable from everywhere and terminal.
const (
	eventProvision   = "provision"
	eventOnline      = "bring_online"
	eventDegrade     = "degrade"
	eventOffline     = "take_offline"
	eventMaintenance = "enter_maintenance"
	eventRetire      = "retire"
)

var transitionEvents = map[models.LifecycleState]string{
	models.StateProvisioning: eventProvision,
	models.StateOnline:       eventOnline,
	models.StateDegraded:     eventDegrade,
	models.StateOffline:      eventOffline,
	models.StateMaintenance:  eventMaintenance,
	models.StateRetired:      eventRetire,
}

func stateMachineEvents() fsm.Events {
	return fsm.Events{
		{
			Name: eventProvision,
			Src:  []string{string(models.StateDiscovered)},
			Dst:  string(models.StateProvisioning),
		},
		{
			Name: eventOnline,
			Src: []string{
				string(models.StateProvisioning),
				string(models.StateDegraded),
				string(models.StateOffline),
				string(models.StateMaintenance),
			},
			Dst: string(models.StateOnline),
		},
		{
			Name: eventDegrade,
			Src: []string{
				string(models.StateOnline),
				string(models.StateOffline),
				string(models.StateMaintenance),
			},
			Dst: string(models.StateDegraded),
		},
		{
			Name: eventOffline,
			Src: []string{
				string(models.StateOnline),
				string(models.StateDegraded),
			},
			Dst: string(models.StateOffline),
		},
		{
			Name: eventMaintenance,
			Src: []string{
				string(models.StateOnline),
				string(models.StateDegraded),
				string(models.StateOffline),
			},
			Dst: string(models.StateMaintenance),
		},
		{
			Name: eventRetire,
			Src: []string{
				string(models.StateDiscovered),
				string(models.StateProvisioning),
				string(models.StateOnline),
				string(models.StateDegraded),
				string(models.StateOffline),
				string(models.StateMaintenance),
			},
			Dst: string(models.StateRetired),
		},
	}
}

func newStateMachine(current models.LifecycleState) *fsm.FSM {
	return fsm.NewFSM(string(current), stateMachineEvents(), fsm.Callbacks{})
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to models.LifecycleState) bool {
	event, ok := transitionEvents[to]
	if !ok {
		return false
	}

	return newStateMachine(from).Can(event)
}
