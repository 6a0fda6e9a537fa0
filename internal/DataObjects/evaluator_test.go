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
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	SQL "replication_monitor/internal/Sql/Replication"
)

func TestEvaluator_Check(t *testing.T) {
	for _, tt := range rulesTestEvaluatorCheck() {
		t.Run(tt.name, func(t *testing.T) {
			runner := &staticRunner{status: slaveRowFactory(tt.ioRunning, tt.sqlRunning)}
			sess := NewSession(nil)
			evaluator := NewEvaluator(runner)

			got := evaluator.Check(context.Background(), sess, "demeter", nil)
			if got != tt.want {
				t.Errorf(" %s Check() = %v, want %v", tt.name, got, tt.want)
			}
			assert.Equal(t, tt.wantEvents, sess.Errors())
			assert.Equal(t, []string{SQL.Dml_show_slave_status, SQL.Dml_get_gtid_mode}, runner.commands)
		})
	}
}

func TestEvaluator_CheckWithSnapshot(t *testing.T) {
	runner := &staticRunner{}
	sess := NewSession(nil)
	status := SlaveStatus{Present: true, IoRunning: "Yes", SqlRunning: "Yes"}

	assert.True(t, NewEvaluator(runner).Check(context.Background(), sess, "demeter", &status))
	assert.Empty(t, runner.commands, "a supplied snapshot is not fetched again")
}

func TestEvaluator_SnapshotCarriesGtidMode(t *testing.T) {
	runner := &staticRunner{
		status: slaveRowFactory("Yes", "Yes"),
		gtid:   Row{"variable_value": sql.NullString{String: "ON", Valid: true}},
	}
	status, err := NewEvaluator(runner).Snapshot(context.Background(), NewSession(nil), "demeter", false)
	require.NoError(t, err)
	assert.Equal(t, "ON", status.GtidMode)

	runner = &staticRunner{status: slaveRowFactory("Yes", "Yes"), failOn: SQL.Dml_get_gtid_mode}
	sess := NewSession(nil)
	status, err = NewEvaluator(runner).Snapshot(context.Background(), sess, "demeter", false)
	require.NoError(t, err, "an unreadable gtid_mode does not fail the snapshot")
	assert.Empty(t, status.GtidMode)
	assert.Empty(t, sess.Errors())

	runner = &staticRunner{}
	status, err = NewEvaluator(runner).Snapshot(context.Background(), NewSession(nil), "demeter", false)
	require.NoError(t, err)
	assert.False(t, status.Present)
	assert.Equal(t, []string{SQL.Dml_show_slave_status}, runner.commands, "no gtid read for a server that is not a slave")
}

func TestEvaluator_CheckFetchFailure(t *testing.T) {
	runner := &staticRunner{failOn: SQL.Dml_show_slave_status}
	sess := NewSession(nil)
	assert.False(t, NewEvaluator(runner).Check(context.Background(), sess, "demeter", nil))
	require.Len(t, sess.Errors(), 1)
}

func TestEvaluator_MasterSnapshotAlwaysUnlocks(t *testing.T) {
	runner := &staticRunner{failOn: SQL.Dml_show_master_status}
	_, err := NewEvaluator(runner).MasterSnapshot(context.Background(), NewSession(nil), "robin")
	assert.Error(t, err)
	assert.Equal(t, []string{SQL.Cmd_flush_tables_locked, SQL.Dml_show_master_status, SQL.Cmd_unlock_tables}, runner.commands)

	runner = &staticRunner{master: Row{
		"File":     sql.NullString{String: "mysql-bin.000007", Valid: true},
		"Position": sql.NullString{String: "1044", Valid: true},
	}}
	status, err := NewEvaluator(runner).MasterSnapshot(context.Background(), NewSession(nil), "robin")
	require.NoError(t, err)
	assert.Equal(t, MasterStatus{Present: true, File: "mysql-bin.000007", Position: "1044"}, status)
	assert.Equal(t, SQL.Cmd_unlock_tables, runner.commands[2])
	assert.Equal(t, SQL.Dml_get_gtid_mode, runner.commands[3])
}

func TestSlaveStatusFromRows(t *testing.T) {
	row := Row{
		"Slave_IO_Running":      sql.NullString{String: "Yes", Valid: true},
		"Slave_SQL_Running":     sql.NullString{String: "Yes", Valid: true},
		"Seconds_Behind_Master": sql.NullString{String: "42", Valid: true},
		"Master_Log_File":       sql.NullString{String: "mysql-bin.000002", Valid: true},
		"Read_Master_Log_Pos":   sql.NullString{String: "900", Valid: true},
		"Relay_Log_Pos":         sql.NullString{String: "1200", Valid: true},
		"Relay_Master_Log_File": sql.NullString{String: "mysql-bin.000001", Valid: true},
		"Exec_Master_Log_Pos":   sql.NullString{String: "800", Valid: true},
	}
	status := SlaveStatusFromRows([]Row{row})
	assert.True(t, status.Present)
	assert.True(t, status.Healthy())
	assert.Equal(t, sql.NullInt64{Int64: 42, Valid: true}, status.SecondsBehindMaster)

	for _, tt := range []struct {
		source   PositionSource
		file     string
		position string
	}{
		{PositionExecMaster, "mysql-bin.000002", "800"},
		{PositionReadMaster, "mysql-bin.000002", "900"},
		{PositionRelayLog, "mysql-bin.000002", "1200"},
		{PositionRelayMasterFile, "mysql-bin.000001", "800"},
	} {
		file, position := status.Position(tt.source)
		assert.Equal(t, tt.file, file, tt.source.String())
		assert.Equal(t, tt.position, position, tt.source.String())
	}

	row["Seconds_Behind_Master"] = sql.NullString{}
	assert.False(t, SlaveStatusFromRows([]Row{row}).SecondsBehindMaster.Valid)
	assert.False(t, SlaveStatusFromRows(nil).Present)
	assert.False(t, SlaveStatusFromRows(nil).Healthy())
}

func TestGtidModeFromRows(t *testing.T) {
	assert.Equal(t, "ON", gtidModeFromRows([]Row{{"VARIABLE_VALUE": sql.NullString{String: "ON", Valid: true}}}))
	assert.Equal(t, "", gtidModeFromRows(nil))
}
