/*
 * Copyright (c) Marco Tusa 2021 - present
 *                     GNU GENERAL PUBLIC LICENSE
 *                        Version 3, 29 June 2007
 *
 *  Copyright (C) 2007 Free Software Foundation, Inc. <https://fsf.org/>
 *  Everyone is permitted to copy and distribute verbatim copies
 *  of this license document, but changing it is not allowed.
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */


package Monitor

import (
	"context"
	"fmt"

	DO "replication_monitor/internal/DataObjects"
)

// Operator actions, each leaves its own line in the audit trail

func (m *Monitor) manualStep(sess *DO.Session, slaveId string, action string, healthy bool) bool {
	sess.AddStep(DO.HealingStep{
		Description: fmt.Sprintf("Operator request on Slave <b>%s</b> -> %s", slaveId, action),
		Outcome:     DO.OutcomeOf(healthy),
	})
	return healthy
}

func (m *Monitor) StartSlave(ctx context.Context, sess *DO.Session, slaveId string) bool {
	return m.manualStep(sess, slaveId, "Start Slave", m.healer.StartSlave(ctx, sess, slaveId))
}

// StopSlave returns the health after the stop, false when it worked
func (m *Monitor) StopSlave(ctx context.Context, sess *DO.Session, slaveId string) bool {
	return m.manualStep(sess, slaveId, "Stop Slave", m.healer.StopSlave(ctx, sess, slaveId))
}

func (m *Monitor) SkipError(ctx context.Context, sess *DO.Session, slaveId string) bool {
	return m.manualStep(sess, slaveId, "Skip Slave errors", m.healer.SkipErrorLoop(ctx, sess, slaveId))
}

// RestartSlave only runs the reset tiers when the slave is unhealthy
func (m *Monitor) RestartSlave(ctx context.Context, sess *DO.Session, masterId string, slaveId string) bool {
	healthy := m.eval.Check(ctx, sess, slaveId, nil)
	if !healthy {
		healthy = m.healer.RestartSlave(ctx, sess, masterId, slaveId)
	}
	return m.manualStep(sess, slaveId, fmt.Sprintf("Restart Slave of Master <b>%s</b>", masterId), healthy)
}

func (m *Monitor) ResetSlave(ctx context.Context, sess *DO.Session, slaveId string) bool {
	return m.manualStep(sess, slaveId, "Reset Slave on "+DO.PositionExecMaster.String(),
		m.healer.ResetSlave(ctx, sess, slaveId, DO.PositionExecMaster))
}

func (m *Monitor) ResetSlaveToMaster(ctx context.Context, sess *DO.Session, masterId string, slaveId string) bool {
	return m.manualStep(sess, slaveId, fmt.Sprintf("Reset Slave to Master <b>%s</b> position", masterId),
		m.healer.ResetToMasterPosition(ctx, sess, masterId, slaveId))
}

// HideEvent flags a timeline entry as hidden for presentation, the row is kept and reports still include it
func (m *Monitor) HideEvent(ctx context.Context, sess *DO.Session, id int64) error {
	if err := m.store.HideEvent(ctx, id); err != nil {
		return fmt.Errorf("hide event %d: %w", id, err)
	}
	sess.AddDebug(ctx, fmt.Sprintf("Timeline event %d hidden", id))
	return nil
}
