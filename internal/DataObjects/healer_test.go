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


package DataObjects_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	DO "replication_monitor/internal/DataObjects"
	global "replication_monitor/internal/Global"
	"replication_monitor/internal/Simulator"
	SQL "replication_monitor/internal/Sql/Replication"
)

func testHealerFactory(cluster *Simulator.Cluster) *DO.Healer {
	return DO.NewHealer(cluster, DO.NewEvaluator(cluster), 0, 10)
}

func breakSlave(s *Simulator.Server) {
	s.IoRunning = "No"
	s.Blocked = true
}

func TestHealer_StartSlaveFixesStoppedThreads(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", func(s *Simulator.Server) { s.SqlRunning = "No" })
	sess := DO.NewSession(nil)

	assert.True(t, testHealerFactory(cluster).Escalate(context.Background(), sess, "robin", "demeter"))
	require.Len(t, sess.Steps(), 1)
	assert.Equal(t, "Cannot get Slave <b>demeter</b> status -> Trying to start Slave -> Resolved", sess.Steps()[0].String())
	assert.Equal(t, 0, cluster.Count("demeter", "RESET SLAVE"))
}

func TestHealer_HealthyAfterSecondTier(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", breakSlave)
	cluster.On("demeter", "CHANGE MASTER", func(s *Simulator.Server) { s.Blocked = false })
	sess := DO.NewSession(nil)

	assert.True(t, testHealerFactory(cluster).Escalate(context.Background(), sess, "robin", "demeter"))

	steps := sess.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, DO.OutcomeNoEffect, steps[0].Outcome)
	assert.Equal(t, DO.OutcomeResolved, steps[1].Outcome)
	assert.Equal(t, "Cannot get Slave <b>demeter</b> status -> Trying to reset Slave on Master_Log_File/Exec_Master_Log_Pos", steps[1].Description)

	assert.Equal(t, 1, cluster.Count("demeter", "CHANGE MASTER"))
	assert.Equal(t, 0, cluster.Count("demeter", SQL.Cmd_skip_one_event))
	assert.Equal(t, 0, cluster.Count("robin", SQL.Cmd_flush_tables_locked), "the master is never touched before the last tier")
	for _, call := range cluster.Calls("demeter") {
		if call.SQL == SQL.Cmd_change_master_to_pos {
			assert.Equal(t, []interface{}{"mysql-bin.000001", int64(154)}, call.Args)
		}
	}
}

func TestHealer_SkipLoopIsBounded(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", breakSlave)

	assert.False(t, testHealerFactory(cluster).SkipErrorLoop(context.Background(), DO.NewSession(nil), "demeter"))
	assert.Equal(t, 10, cluster.Count("demeter", SQL.Cmd_skip_one_event))
	assert.Equal(t, 11, cluster.Count("demeter", SQL.Dml_show_slave_status))
}

func TestHealer_SkipLoopStopsWhenHealthy(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", breakSlave)
	skips := 0
	cluster.On("demeter", SQL.Cmd_skip_one_event, func(s *Simulator.Server) {
		skips++
		if skips == 3 {
			s.Blocked = false
		}
	})

	assert.True(t, testHealerFactory(cluster).SkipErrorLoop(context.Background(), DO.NewSession(nil), "demeter"))
	assert.Equal(t, 3, cluster.Count("demeter", SQL.Cmd_skip_one_event))
}

func TestHealer_PermanentlyBrokenSlave(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", breakSlave)
	cluster.Update("robin", func(s *Simulator.Server) {
		s.MasterFile = "mysql-bin.000009"
		s.MasterPosition = "777"
	})
	sess := DO.NewSession(nil)

	assert.False(t, testHealerFactory(cluster).Escalate(context.Background(), sess, "robin", "demeter"))

	steps := sess.Steps()
	require.Len(t, steps, 6)
	for _, step := range steps {
		assert.Equal(t, DO.OutcomeNoEffect, step.Outcome)
	}
	assert.Equal(t, "Cannot get Slave <b>demeter</b> status -> Trying to reset Slave to Master <b>robin</b> position", steps[5].Description)

	var last []interface{}
	for _, call := range cluster.Calls("demeter") {
		if call.SQL == SQL.Cmd_change_master_to_pos {
			last = call.Args
		}
	}
	assert.Equal(t, []interface{}{"mysql-bin.000009", int64(777)}, last)
	assert.Equal(t, 1, cluster.Count("robin", SQL.Cmd_flush_tables_locked))
	assert.Equal(t, 1, cluster.Count("robin", SQL.Cmd_unlock_tables))
	assert.Equal(t, 5*10, cluster.Count("demeter", SQL.Cmd_skip_one_event))
}

func TestHealer_UnreadableMasterStillRestarts(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", breakSlave)
	cluster.Update("robin", func(s *Simulator.Server) { s.MasterFile = "" })
	sess := DO.NewSession(nil)

	assert.False(t, testHealerFactory(cluster).ResetToMasterPosition(context.Background(), sess, "robin", "demeter"))
	assert.Equal(t, 0, cluster.Count("demeter", "CHANGE MASTER"))
	assert.Equal(t, 1, cluster.Count("robin", SQL.Cmd_unlock_tables))
	assert.Contains(t, sess.Errors(), "Cannot read coordinates of Master@<b>robin</b>, Slave <b>demeter</b> restarted on its own position")
}

func TestHealer_CancelledContextStopsTiers(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", breakSlave)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := DO.NewSession(nil)

	assert.False(t, testHealerFactory(cluster).RestartSlave(ctx, sess, "robin", "demeter"))
	assert.Empty(t, sess.Steps())
}

// refusingHealerFactory runs on a real registry whose every dial is refused
func refusingHealerFactory(opens *int) *DO.Healer {
	servers := []global.Server{
		{Id: "robin", Host: "127.0.0.1", Port: 1, User: "monitor"},
		{Id: "demeter", Host: "127.0.0.1", Port: 1, User: "monitor"},
	}
	registry := DO.NewRegistry(servers, time.Second).WithOpener(func(string, string) (*sql.DB, error) {
		*opens++
		return nil, errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	})
	exec := DO.NewExecutor(registry, "util_replication")
	return DO.NewHealer(exec, DO.NewEvaluator(exec), 0, 10)
}

func countPrefix(texts []string, prefix string) int {
	count := 0
	for _, text := range texts {
		if strings.HasPrefix(text, prefix) {
			count++
		}
	}
	return count
}

func TestHealer_UnreachableSlaveStopsEscalation(t *testing.T) {
	opens := 0
	sess := DO.NewSession(nil)

	assert.False(t, refusingHealerFactory(&opens).Escalate(context.Background(), sess, "robin", "demeter"))
	assert.Equal(t, 1, opens, "a lost server is dialed once per cycle")

	steps := sess.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, "Cannot get Slave <b>demeter</b> status -> Trying to start Slave -> No Effect", steps[0].String())
	assert.Equal(t, 1, countPrefix(sess.Errors(), "Cannot connect to demeter"))
	assert.Equal(t, []string{
		"Cannot connect to demeter: monitor@127.0.0.1:1 dial tcp 127.0.0.1:1: connect: connection refused",
		"Healing of Slave <b>demeter</b> stopped, server cannot be reached",
	}, sess.Errors())
}

func TestHealer_UnreachableSlaveStopsTiers(t *testing.T) {
	opens := 0
	sess := DO.NewSession(nil)
	healer := refusingHealerFactory(&opens)

	assert.False(t, healer.RestartSlave(context.Background(), sess, "robin", "demeter"))
	require.Len(t, sess.Steps(), 1)
	assert.Len(t, sess.Errors(), 2)

	assert.False(t, healer.SkipErrorLoop(context.Background(), sess, "demeter"))
	assert.Equal(t, 1, opens)
	assert.Len(t, sess.Errors(), 2, "nothing new is raised for a server already lost")
}

func TestHealer_DownSlaveIsNeverCalled(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", func(s *Simulator.Server) { s.Down = true })
	sess := DO.NewSession(nil)

	assert.False(t, testHealerFactory(cluster).Escalate(context.Background(), sess, "robin", "demeter"))
	assert.Len(t, sess.Steps(), 1)
	assert.Empty(t, cluster.Calls("demeter"))
	assert.Equal(t, 0, cluster.Count("robin", SQL.Cmd_flush_tables_locked))
}

func TestHealer_UnreachableMasterRestartsOnOwnPosition(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", breakSlave)
	cluster.Update("robin", func(s *Simulator.Server) { s.Down = true })
	sess := DO.NewSession(nil)

	assert.False(t, testHealerFactory(cluster).ResetToMasterPosition(context.Background(), sess, "robin", "demeter"))
	assert.Equal(t, 0, cluster.Count("demeter", "CHANGE MASTER"))
	assert.Equal(t, 0, cluster.Count("demeter", SQL.Cmd_skip_one_event), "no skip loop without the master coordinates")
	assert.Equal(t, 1, countPrefix(sess.Errors(), "Cannot connect to robin"))
	assert.Contains(t, sess.Errors(), "Cannot read coordinates of Master@<b>robin</b>, Slave <b>demeter</b> restarted on its own position")
}
