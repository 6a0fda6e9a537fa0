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
	"strings"
	"sync"
)

type evaluatorRule struct {
	name       string
	ioRunning  string
	sqlRunning string
	want       bool
	wantEvents []string
}

// staticRunner answers SHOW SLAVE STATUS with a fixed row and records everything else
type staticRunner struct {
	sync.Mutex
	status   Row
	master   Row
	gtid     Row
	failOn   string
	commands []string
}

func (s *staticRunner) Execute(ctx context.Context, sess *Session, serverId string, stmt Statement) (Result, error) {
	s.Lock()
	defer s.Unlock()
	s.commands = append(s.commands, stmt.SQL)
	if s.failOn != "" && strings.HasPrefix(stmt.SQL, s.failOn) {
		if !stmt.Silent {
			sess.AddError(ctx, "Could not successfully run query ["+serverId+"] {"+stmt.SQL+"}")
		}
		return Result{}, &QueryError{Server: serverId, Command: stmt.SQL}
	}
	switch {
	case strings.HasPrefix(stmt.SQL, "SHOW SLAVE STATUS") && s.status != nil:
		return Result{Rows: []Row{s.status}}, nil
	case strings.HasPrefix(stmt.SQL, "SHOW MASTER STATUS") && s.master != nil:
		return Result{Rows: []Row{s.master}}, nil
	case strings.HasPrefix(stmt.SQL, "SELECT variable_value") && s.gtid != nil:
		return Result{Rows: []Row{s.gtid}}, nil
	}
	return Result{Rows: []Row{}}, nil
}

func slaveRowFactory(io string, sqlThread string) Row {
	return Row{
		"Slave_IO_Running":      sql.NullString{String: io, Valid: true},
		"Slave_SQL_Running":     sql.NullString{String: sqlThread, Valid: true},
		"Seconds_Behind_Master": sql.NullString{},
	}
}

func rulesTestEvaluatorCheck() []evaluatorRule {
	return []evaluatorRule{
		{name: "both running", ioRunning: "Yes", sqlRunning: "Yes", want: true},
		{name: "io stopped", ioRunning: "No", sqlRunning: "Yes", want: false,
			wantEvents: []string{"Slave_IO_Running@<b>demeter</b>: No"}},
		{name: "io connecting", ioRunning: "Connecting", sqlRunning: "Yes", want: false,
			wantEvents: []string{"Slave_IO_Running@<b>demeter</b>: Connecting"}},
		{name: "sql stopped", ioRunning: "Yes", sqlRunning: "No", want: false,
			wantEvents: []string{"Slave_SQL_Running@<b>demeter</b>: No"}},
		{name: "both stopped", ioRunning: "No", sqlRunning: "No", want: false,
			wantEvents: []string{"Slave_IO_Running@<b>demeter</b>: No", "Slave_SQL_Running@<b>demeter</b>: No"}},
		{name: "lowercase is not affirmative", ioRunning: "yes", sqlRunning: "Yes", want: false,
			wantEvents: []string{"Slave_IO_Running@<b>demeter</b>: yes"}},
		{name: "empty thread states", ioRunning: "", sqlRunning: "", want: false,
			wantEvents: []string{"Slave_IO_Running@<b>demeter</b>: ", "Slave_SQL_Running@<b>demeter</b>: "}},
	}
}
