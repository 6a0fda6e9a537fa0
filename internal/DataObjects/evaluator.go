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

	SQL "replication_monitor/internal/Sql/Replication"
)

// Evaluator turns status rows into a verdict
type Evaluator struct {
	exec Runner
}

func NewEvaluator(exec Runner) *Evaluator {
	return &Evaluator{exec: exec}
}

func (e *Evaluator) Snapshot(ctx context.Context, sess *Session, slaveId string, cacheable bool) (SlaveStatus, error) {
	stmt := Command(SQL.Dml_show_slave_status)
	stmt.Cacheable = cacheable
	result, err := e.exec.Execute(ctx, sess, slaveId, stmt)
	if err != nil {
		return SlaveStatus{}, err
	}
	status := SlaveStatusFromRows(result.Rows)
	if status.Present {
		status.GtidMode = e.slaveGtidMode(ctx, sess, slaveId, cacheable)
	}
	return status, nil
}

// slaveGtidMode stays empty when the variable cannot be read, servers without performance_schema included
func (e *Evaluator) slaveGtidMode(ctx context.Context, sess *Session, slaveId string, cacheable bool) string {
	stmt := Command(SQL.Dml_get_gtid_mode)
	stmt.Cacheable = cacheable
	stmt.Silent = true
	result, err := e.exec.Execute(ctx, sess, slaveId, stmt)
	if err != nil {
		return ""
	}
	return gtidModeFromRows(result.Rows)
}

/*
Check needs both threads reporting Yes.
Every thread that does not is reported on its own.
With a nil status a fresh one is read, never from cache.
*/
func (e *Evaluator) Check(ctx context.Context, sess *Session, slaveId string, status *SlaveStatus) bool {
	if status == nil {
		healthy, _ := e.Verify(ctx, sess, slaveId)
		return healthy
	}

	healthy := true
	if status.IoRunning != threadRunning {
		sess.AddError(ctx, fmt.Sprintf("Slave_IO_Running@<b>%s</b>: %s", slaveId, status.IoRunning))
		healthy = false
	}
	if status.SqlRunning != threadRunning {
		sess.AddError(ctx, fmt.Sprintf("Slave_SQL_Running@<b>%s</b>: %s", slaveId, status.SqlRunning))
		healthy = false
	}
	if healthy {
		sess.AddDebug(ctx, fmt.Sprintf("Slave <b>%s</b> IO and SQL threads are running", slaveId))
	}
	return healthy
}

// Verify is Check on a fresh snapshot, the error tells a server that could not be read from a broken slave
func (e *Evaluator) Verify(ctx context.Context, sess *Session, slaveId string) (bool, error) {
	status, err := e.Snapshot(ctx, sess, slaveId, false)
	if err != nil {
		return false, err
	}
	return e.Check(ctx, sess, slaveId, &status), nil
}

func (e *Evaluator) GtidMode(ctx context.Context, sess *Session, serverId string, cacheable bool) (string, error) {
	stmt := Command(SQL.Dml_get_gtid_mode)
	stmt.Cacheable = cacheable
	result, err := e.exec.Execute(ctx, sess, serverId, stmt)
	if err != nil {
		return "", err
	}
	return gtidModeFromRows(result.Rows), nil
}

/*
MasterSnapshot always unlocks, even when the read failed.
Nothing is recorded while the global read lock is held, the log store can live on this same session
and its insert would be refused, so failures inside the window are raised after UNLOCK.
*/
func (e *Evaluator) MasterSnapshot(ctx context.Context, sess *Session, masterId string) (MasterStatus, error) {
	if _, err := e.exec.Execute(ctx, sess, masterId, Command(SQL.Cmd_flush_tables_locked)); err != nil {
		return MasterStatus{}, err
	}
	read := Command(SQL.Dml_show_master_status)
	read.Silent = true
	unlock := Command(SQL.Cmd_unlock_tables)
	unlock.Silent = true

	result, readErr := e.exec.Execute(ctx, sess, masterId, read)
	_, unlockErr := e.exec.Execute(ctx, sess, masterId, unlock)
	for _, err := range []error{readErr, unlockErr} {
		if err != nil {
			sess.AddError(ctx, failureText(err))
		}
	}
	if readErr != nil {
		return MasterStatus{}, readErr
	}
	if unlockErr != nil {
		return MasterStatus{}, unlockErr
	}

	status := MasterStatusFromRows(result.Rows)
	if mode, err := e.GtidMode(ctx, sess, masterId, false); err == nil {
		status.GtidMode = mode
	}
	return status, nil
}
