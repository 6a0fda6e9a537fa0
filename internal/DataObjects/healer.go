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


package DataObjects

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	global "replication_monitor/internal/Global"
	SQL "replication_monitor/internal/Sql/Replication"
)

type Outcome string

const (
	OutcomeResolved Outcome = "Resolved"
	OutcomeNoEffect Outcome = "No Effect"
)

func OutcomeOf(healthy bool) Outcome {
	if healthy {
		return OutcomeResolved
	}
	return OutcomeNoEffect
}

// HealingStep is one line of the audit trail
type HealingStep struct {
	Description string
	Outcome     Outcome
}

func (s HealingStep) String() string {
	return s.Description + " -> " + string(s.Outcome)
}

// restartTiers are tried in this order, each more invasive than the previous
var restartTiers = []PositionSource{
	PositionExecMaster,
	PositionReadMaster,
	PositionRelayLog,
	PositionRelayMasterFile,
}

/*
Healer runs the corrective actions on a slave, and as last resort reads its master.
Every action ends with a fresh status check and returns it.
*/
type Healer struct {
	exec         Runner
	eval         *Evaluator
	skipInterval time.Duration
	maxSkips     int
}

func NewHealer(exec Runner, eval *Evaluator, skipInterval time.Duration, maxSkips int) *Healer {
	return &Healer{exec: exec, eval: eval, skipInterval: skipInterval, maxSkips: maxSkips}
}

func (h *Healer) StartSlave(ctx context.Context, sess *Session, slaveId string) bool {
	if _, err := h.exec.Execute(ctx, sess, slaveId, Command(SQL.Cmd_start_slave)); IsConnectionError(err) {
		return false
	}
	return h.eval.Check(ctx, sess, slaveId, nil)
}

func (h *Healer) StopSlave(ctx context.Context, sess *Session, slaveId string) bool {
	h.exec.Execute(ctx, sess, slaveId, Command(SQL.Cmd_stop_slave))
	return h.eval.Check(ctx, sess, slaveId, nil)
}

func (h *Healer) startAll(ctx context.Context, sess *Session, slaveId string) {
	runAll(ctx, sess, h.exec, slaveId, SQL.Cmd_start_slave, SQL.Cmd_start_slave_io, SQL.Cmd_start_slave_sql)
}

// changeMaster is skipped when the coordinates are incomplete, a partial CHANGE MASTER would lose the position
func (h *Healer) changeMaster(ctx context.Context, sess *Session, slaveId string, file string, position string) bool {
	pos := global.ToInt64(position)
	if file == "" || position == "" || pos < 0 {
		log.Warning(fmt.Sprintf("Slave %s: incomplete coordinates file=|%s| position=|%s|, CHANGE MASTER skipped", slaveId, file, position))
		return false
	}
	_, err := h.exec.Execute(ctx, sess, slaveId, Statement{SQL: SQL.Cmd_change_master_to_pos, Args: []interface{}{file, pos}})
	return err == nil
}

/*
SkipErrorLoop skips one event at a time while the slave stays broken.
A single bad or duplicate event can block the SQL thread forever, skipping is bounded
so a whole backlog is never silently thrown away.
The loop ends as soon as the slave cannot be reached.
*/
func (h *Healer) SkipErrorLoop(ctx context.Context, sess *Session, slaveId string) bool {
	healthy, err := h.eval.Verify(ctx, sess, slaveId)
	for loop := 0; !healthy && !IsConnectionError(err) && loop < h.maxSkips; loop++ {
		runAll(ctx, sess, h.exec, slaveId,
			SQL.Cmd_flush_privileges,
			SQL.Cmd_stop_slave,
			SQL.Cmd_reset_slave,
			SQL.Cmd_skip_one_event,
			SQL.Cmd_start_slave,
			SQL.Cmd_start_slave_io,
			SQL.Cmd_start_slave_sql)
		if !sleepContext(ctx, h.skipInterval) {
			break
		}
		healthy, err = h.eval.Verify(ctx, sess, slaveId)
		log.Debug(fmt.Sprintf("Skip error loop %d on %s healthy=%v", loop+1, slaveId, healthy))
	}
	return healthy
}

// ResetSlave re-arms the slave on a position it already had
func (h *Healer) ResetSlave(ctx context.Context, sess *Session, slaveId string, source PositionSource) bool {
	runAll(ctx, sess, h.exec, slaveId, SQL.Cmd_stop_slave, SQL.Cmd_reset_slave)
	status, err := h.eval.Snapshot(ctx, sess, slaveId, false)
	if IsConnectionError(err) {
		return false
	}
	if err == nil {
		file, position := status.Position(source)
		h.changeMaster(ctx, sess, slaveId, file, position)
	}
	h.startAll(ctx, sess, slaveId)
	return h.SkipErrorLoop(ctx, sess, slaveId)
}

/*
ResetToMasterPosition points the slave at the master current coordinates.
When the master cannot be read the slave is restarted on its own position,
the skip loop runs only when the master was reachable.
*/
func (h *Healer) ResetToMasterPosition(ctx context.Context, sess *Session, masterId string, slaveId string) bool {
	runAll(ctx, sess, h.exec, slaveId, SQL.Cmd_stop_slave, SQL.Cmd_reset_slave)
	if sess.Unreachable(slaveId) != nil {
		return false
	}
	runAll(ctx, sess, h.exec, masterId, SQL.Cmd_flush_privileges)

	master, err := h.eval.MasterSnapshot(ctx, sess, masterId)
	if err != nil || !master.Present || !h.changeMaster(ctx, sess, slaveId, master.File, master.Position) {
		sess.AddError(ctx, fmt.Sprintf("Cannot read coordinates of Master@<b>%s</b>, Slave <b>%s</b> restarted on its own position", masterId, slaveId))
	}
	h.startAll(ctx, sess, slaveId)
	if IsConnectionError(err) {
		return h.eval.Check(ctx, sess, slaveId, nil)
	}
	return h.SkipErrorLoop(ctx, sess, slaveId)
}

// stopHealing ends the escalation with one event once the slave is lost, the remaining tiers could only redial
func (h *Healer) stopHealing(ctx context.Context, sess *Session, slaveId string) bool {
	if sess.Unreachable(slaveId) == nil {
		return false
	}
	sess.AddError(ctx, fmt.Sprintf("Healing of Slave <b>%s</b> stopped, server cannot be reached", slaveId))
	return true
}

// RestartSlave runs the reset tiers and the master reposition, stopping at the first that works
func (h *Healer) RestartSlave(ctx context.Context, sess *Session, masterId string, slaveId string) bool {
	for _, source := range restartTiers {
		if ctx.Err() != nil {
			return false
		}
		healthy := h.ResetSlave(ctx, sess, slaveId, source)
		sess.AddStep(HealingStep{
			Description: fmt.Sprintf("Cannot get Slave <b>%s</b> status -> Trying to reset Slave on %s", slaveId, source),
			Outcome:     OutcomeOf(healthy),
		})
		if healthy {
			return true
		}
		if h.stopHealing(ctx, sess, slaveId) {
			return false
		}
	}
	if ctx.Err() != nil {
		return false
	}
	healthy := h.ResetToMasterPosition(ctx, sess, masterId, slaveId)
	sess.AddStep(HealingStep{
		Description: fmt.Sprintf("Cannot get Slave <b>%s</b> status -> Trying to reset Slave to Master <b>%s</b> position", slaveId, masterId),
		Outcome:     OutcomeOf(healthy),
	})
	return healthy
}

// Escalate is the whole thread state sequence, from a plain start to the master reposition
func (h *Healer) Escalate(ctx context.Context, sess *Session, masterId string, slaveId string) bool {
	healthy := h.StartSlave(ctx, sess, slaveId)
	sess.AddStep(HealingStep{
		Description: fmt.Sprintf("Cannot get Slave <b>%s</b> status -> Trying to start Slave", slaveId),
		Outcome:     OutcomeOf(healthy),
	})
	if healthy {
		return true
	}
	if h.stopHealing(ctx, sess, slaveId) {
		return false
	}
	return h.RestartSlave(ctx, sess, masterId, slaveId)
}
