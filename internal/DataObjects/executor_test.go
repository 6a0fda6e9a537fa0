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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	global "replication_monitor/internal/Global"
	SQL "replication_monitor/internal/Sql/Replication"
)

var testServers = []global.Server{
	{Id: "robin", Host: "10.0.0.1", Port: 3306, User: "monitor", Password: "secret"},
	{Id: "demeter", Host: "10.0.0.2", Port: 3306, User: "monitor", Password: "secret"},
}

func testExecutorFactory(t *testing.T) (*Executor, *Registry, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	opened := 0
	registry := NewRegistry(testServers, time.Second).WithOpener(func(driverName string, dsn string) (*sql.DB, error) {
		opened++
		assert.Equal(t, "mysql", driverName)
		assert.Contains(t, dsn, "interpolateParams=true")
		return db, nil
	})
	t.Cleanup(func() {
		registry.Close()
		assert.LessOrEqual(t, opened, 1, "one session per server")
	})
	return NewExecutor(registry, "util_replication"), registry, mock
}

func TestExecutorRowsAndCache(t *testing.T) {
	ctx := context.Background()
	exec, _, mock := testExecutorFactory(t)
	sess := NewSession(nil, WithDebugRecording(true))

	mock.ExpectExec("USE `util_replication`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(SQL.Dml_show_slave_status).WillReturnRows(
		sqlmock.NewRows([]string{"Slave_IO_Running", "Slave_SQL_Running", "Seconds_Behind_Master"}).
			AddRow("Yes", "No", nil))

	first, err := exec.Execute(ctx, sess, "robin", Read(SQL.Dml_show_slave_status))
	require.NoError(t, err)
	require.Len(t, first.Rows, 1)
	assert.Equal(t, "No", first.Rows[0].Get("Slave_SQL_Running"))
	assert.True(t, first.Rows[0].IsNull("Seconds_Behind_Master"))

	second, err := exec.Execute(ctx, sess, "robin", Read(SQL.Dml_show_slave_status))
	require.NoError(t, err)
	assert.Equal(t, first, second, "second read inside the cycle comes from the cache")
	assert.NoError(t, mock.ExpectationsWereMet())

	var connected int
	for _, event := range sess.Events() {
		if strings.HasPrefix(event.Text, "Connected to <b>robin</b>") {
			connected++
		}
	}
	assert.Equal(t, 1, connected)
}

func TestExecutorEmptyResult(t *testing.T) {
	exec, _, mock := testExecutorFactory(t)
	mock.ExpectExec("USE `util_replication`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(SQL.Dml_show_slave_status).WillReturnRows(sqlmock.NewRows([]string{"Slave_IO_Running"}))

	result, err := exec.Execute(context.Background(), NewSession(nil), "robin", Command(SQL.Dml_show_slave_status))
	require.NoError(t, err)
	assert.NotNil(t, result.Rows)
	assert.Empty(t, result.Rows)
}

func TestExecutorMutationsAreNotCached(t *testing.T) {
	ctx := context.Background()
	exec, _, mock := testExecutorFactory(t)
	sess := NewSession(nil)

	mock.ExpectExec("USE `util_replication`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(SQL.Cmd_start_slave).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(SQL.Cmd_start_slave).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `util_replication`.`test` (`master_slave`, `created`, `data`) VALUES (?, ?, ?)").
		WithArgs("robin_demeter", "2026-10-14 10:00:00", "abc").
		WillReturnResult(sqlmock.NewResult(12, 1))

	stmt := Read(SQL.Cmd_start_slave)
	_, err := exec.Execute(ctx, sess, "robin", stmt)
	require.NoError(t, err)
	result, err := exec.Execute(ctx, sess, "robin", stmt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Affected)

	result, err = exec.Execute(ctx, sess, "robin", Statement{
		SQL:  "INSERT INTO `util_replication`.`test` (`master_slave`, `created`, `data`) VALUES (?, ?, ?)",
		Args: []interface{}{"robin_demeter", "2026-10-14 10:00:00", "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), result.InsertId)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutorSchemaSelection(t *testing.T) {
	ctx := context.Background()
	exec, _, mock := testExecutorFactory(t)
	sess := NewSession(nil)

	mock.ExpectExec("USE `util_replication`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(SQL.Cmd_stop_slave).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(SQL.Cmd_reset_slave).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("USE `sram_log`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(SQL.Cmd_flush_privileges).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS `fresh`").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := exec.Execute(ctx, sess, "robin", Command(SQL.Cmd_stop_slave))
	require.NoError(t, err)
	_, err = exec.Execute(ctx, sess, "robin", Command(SQL.Cmd_reset_slave))
	require.NoError(t, err)
	_, err = exec.Execute(ctx, sess, "robin", Statement{SQL: SQL.Cmd_flush_privileges, Schema: "sram_log"})
	require.NoError(t, err)
	_, err = exec.Execute(ctx, sess, "robin", Statement{SQL: "CREATE DATABASE IF NOT EXISTS `fresh`", Schema: "fresh", NoSchema: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = exec.Execute(ctx, sess, "robin", Statement{SQL: SQL.Cmd_flush_privileges, Schema: "bad`name"})
	var qerr *QueryError
	assert.True(t, errors.As(err, &qerr), "invalid identifiers never reach the server")
}

func TestExecutorQueryFailure(t *testing.T) {
	ctx := context.Background()
	exec, _, mock := testExecutorFactory(t)
	sess := NewSession(nil)

	mock.ExpectExec("USE `util_replication`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(SQL.Cmd_start_slave).WillReturnError(errors.New("Error 1200: The server is not configured as slave"))
	mock.ExpectQuery(SQL.Dml_show_slave_status).WillReturnError(errors.New("lost"))

	_, err := exec.Execute(ctx, sess, "robin", Command(SQL.Cmd_start_slave))
	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, "robin", qerr.Server)
	require.Len(t, sess.Errors(), 1)
	assert.True(t, strings.HasPrefix(sess.Errors()[0], "Could not successfully run query [robin] {START SLAVE} - Error 1200"))

	silent := Command(SQL.Dml_show_slave_status)
	silent.Silent = true
	_, err = exec.Execute(ctx, sess, "robin", silent)
	assert.Error(t, err)
	assert.Len(t, sess.Errors(), 1, "silent failures raise no event")
}

func TestExecutorConnectionErrors(t *testing.T) {
	ctx := context.Background()
	exec, _, _ := testExecutorFactory(t)
	sess := NewSession(nil)

	_, err := exec.Execute(ctx, sess, "ghost", Command(SQL.Cmd_start_slave))
	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"Cannot find credentials for ghost"}, sess.Errors())

	failing := NewRegistry(testServers, time.Second).WithOpener(func(string, string) (*sql.DB, error) {
		return nil, errors.New("dial tcp 10.0.0.2:3306: connect: connection refused")
	})
	sess = NewSession(nil)
	assert.False(t, failing.Connect(ctx, sess, "demeter"))
	require.Len(t, sess.Errors(), 1)
	assert.True(t, strings.HasPrefix(sess.Errors()[0], "Cannot connect to demeter: monitor@10.0.0.2:3306"))
}

func TestMasterSnapshotRecordsAfterUnlock(t *testing.T) {
	ctx := context.Background()
	exec, _, mock := testExecutorFactory(t)
	var unmetAtWrite []error
	sink := &recordingSink{before: func() { unmetAtWrite = append(unmetAtWrite, mock.ExpectationsWereMet()) }}
	sess := NewSession(sink)

	mock.ExpectExec("USE `util_replication`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(SQL.Cmd_flush_tables_locked).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(SQL.Dml_show_master_status).WillReturnError(errors.New("Access denied; you need the REPLICATION CLIENT privilege"))
	mock.ExpectExec(SQL.Cmd_unlock_tables).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := NewEvaluator(exec).MasterSnapshot(ctx, sess, "robin")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, sink.texts(), 1)
	assert.True(t, strings.HasPrefix(sink.texts()[0], "Could not successfully run query [robin] {SHOW MASTER STATUS}"))
	require.Len(t, unmetAtWrite, 1)
	assert.NoError(t, unmetAtWrite[0], "the event is written once UNLOCK TABLES ran")
}

func TestExecutorSkipsLostServer(t *testing.T) {
	ctx := context.Background()
	opens := 0
	failing := NewRegistry(testServers, time.Second).WithOpener(func(string, string) (*sql.DB, error) {
		opens++
		return nil, errors.New("dial tcp 10.0.0.2:3306: i/o timeout")
	})
	exec := NewExecutor(failing, "util_replication")
	sess := NewSession(nil)

	for i := 0; i < 3; i++ {
		_, err := exec.Execute(ctx, sess, "demeter", Command(SQL.Cmd_start_slave))
		assert.True(t, IsConnectionError(err))
	}
	assert.Equal(t, 1, opens)
	assert.Len(t, sess.Errors(), 1)
	assert.Error(t, sess.Unreachable("demeter"))
	assert.NoError(t, sess.Unreachable("robin"))

	_, err := exec.Execute(ctx, NewSession(nil), "demeter", Command(SQL.Cmd_start_slave))
	assert.True(t, IsConnectionError(err))
	assert.Equal(t, 2, opens, "a new cycle dials again")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, kindRows, classify("SHOW SLAVE STATUS"))
	assert.Equal(t, kindRows, classify("  select 1"))
	assert.Equal(t, kindInsert, classify("INSERT INTO x VALUES (1)"))
	assert.Equal(t, kindExec, classify("CHANGE MASTER TO MASTER_LOG_FILE = ?, MASTER_LOG_POS = ?"))
	assert.Equal(t, kindExec, classify("SET GLOBAL SQL_SLAVE_SKIP_COUNTER = 1"))
	assert.Equal(t, kindExec, classify(""))
}

func TestRegistryDsn(t *testing.T) {
	registry := NewRegistry(testServers, 1500*time.Millisecond)
	dsn := registry.dsn(testServers[0])
	assert.True(t, strings.HasPrefix(dsn, "monitor:secret@tcp(10.0.0.1:3306)/"))
	assert.Contains(t, dsn, "timeout=1.5s")
	assert.Contains(t, dsn, "interpolateParams=true")
}
