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


/*
Package Simulator is an in-memory replication fleet implementing DataObjects.Runner.
It understands the replication commands the monitor issues and lets tests break and fix
slaves the way real incidents do: stopped threads, events blocking the SQL thread,
rows that never arrive or arrive altered.
*/
package Simulator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	DO "replication_monitor/internal/DataObjects"
	SQL "replication_monitor/internal/Sql/Replication"
)

var errConnectionRefused = errors.New("connection refused")

type Server struct {
	Id                 string
	IsSlave            bool
	Source             string // master id
	IoRunning          string
	SqlRunning         string
	Lag                *int64
	MasterLogFile      string
	ReadMasterLogPos   string
	RelayLogPos        string
	RelayMasterLogFile string
	ExecMasterLogPos   string
	MasterFile         string
	MasterPosition     string
	GtidMode           string

	// Down refuses every connection
	Down bool
	// Blocked keeps the threads down whatever START is issued
	Blocked bool
	// DropReplication lets the threads run but no row ever arrives
	DropReplication bool
	// CorruptReplication delivers rows with a different created value
	CorruptReplication bool
	ReplicationDelay   time.Duration

	rows []probeRow
}

type probeRow struct {
	tag       string
	created   string
	data      string
	visibleAt time.Time
}

// Call is one statement received by a server
type Call struct {
	SQL  string
	Args []interface{}
}

type hook struct {
	server string
	prefix string
	fn     func(*Server)
}

type failure struct {
	server string
	prefix string
}

type Cluster struct {
	mu       sync.Mutex
	servers  map[string]*Server
	calls    map[string][]Call
	hooks    []hook
	failures map[failure]error
	now      func() time.Time
}

func New() *Cluster {
	return &Cluster{
		servers:  make(map[string]*Server),
		calls:    make(map[string][]Call),
		failures: make(map[failure]error),
		now:      time.Now,
	}
}

// Master adds a server that is not a slave
func (c *Cluster) Master(id string) *Server {
	return c.add(&Server{Id: id, MasterFile: "mysql-bin.000001", MasterPosition: "154", GtidMode: "OFF"})
}

// Slave adds a healthy slave of source
func (c *Cluster) Slave(id string, source string) *Server {
	return c.add(&Server{
		Id:                 id,
		IsSlave:            true,
		Source:             source,
		IoRunning:          "Yes",
		SqlRunning:         "Yes",
		MasterLogFile:      "mysql-bin.000001",
		ReadMasterLogPos:   "154",
		RelayLogPos:        "320",
		RelayMasterLogFile: "mysql-bin.000001",
		ExecMasterLogPos:   "154",
		MasterFile:         "mysql-bin.000003",
		MasterPosition:     "4",
		GtidMode:           "OFF",
	})
}

func (c *Cluster) add(s *Server) *Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[s.Id] = s
	return s
}

// Update mutates a server under the cluster lock
func (c *Cluster) Update(id string, fn func(*Server)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.servers[id])
}

// On runs fn after every command starting with prefix is applied on server
func (c *Cluster) On(server string, prefix string, fn func(*Server)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook{server: server, prefix: prefix, fn: fn})
}

// Fail makes every command starting with prefix fail on server
func (c *Cluster) Fail(server string, prefix string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[failure{server: server, prefix: prefix}] = err
}

func (c *Cluster) Calls(server string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls[server]...)
}

func (c *Cluster) Count(server string, prefix string) int {
	count := 0
	for _, call := range c.Calls(server) {
		if strings.HasPrefix(call.SQL, prefix) {
			count++
		}
	}
	return count
}

// ProbeRows is the number of marker rows stored on server
func (c *Cluster) ProbeRows(server string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.servers[server]; ok {
		return len(s.rows)
	}
	return 0
}

func (c *Cluster) Execute(ctx context.Context, sess *DO.Session, serverId string, stmt DO.Statement) (DO.Result, error) {
	if err := sess.Unreachable(serverId); err != nil {
		return DO.Result{}, err
	}
	c.mu.Lock()
	server, ok := c.servers[serverId]
	if !ok || server.Down {
		c.mu.Unlock()
		cerr := &DO.ConnectionError{Server: serverId, Err: DO.ErrUnknownServer}
		if ok {
			cerr.Err = errConnectionRefused
			sess.AddError(ctx, fmt.Sprintf("Cannot connect to %s: %v", serverId, errConnectionRefused))
		} else {
			sess.AddError(ctx, fmt.Sprintf("Cannot find credentials for %s", serverId))
		}
		sess.MarkUnreachable(serverId, cerr)
		return DO.Result{}, cerr
	}
	c.calls[serverId] = append(c.calls[serverId], Call{SQL: stmt.SQL, Args: stmt.Args})

	if err := c.failureFor(serverId, stmt.SQL); err != nil {
		c.mu.Unlock()
		if !stmt.Silent {
			sess.AddError(ctx, fmt.Sprintf("Could not successfully run query [%s] {%s} - %v", serverId, stmt.SQL, err))
		}
		return DO.Result{}, &DO.QueryError{Server: serverId, Command: stmt.SQL, Err: err}
	}

	result, err := c.apply(server, stmt)
	if err == nil {
		for _, h := range c.hooks {
			if h.server == serverId && strings.HasPrefix(stmt.SQL, h.prefix) {
				h.fn(server)
			}
		}
	}
	c.mu.Unlock()

	if err != nil {
		if !stmt.Silent {
			sess.AddError(ctx, fmt.Sprintf("Could not successfully run query [%s] {%s} - %v", serverId, stmt.SQL, err))
		}
		return DO.Result{}, &DO.QueryError{Server: serverId, Command: stmt.SQL, Err: err}
	}
	return result, nil
}

func (c *Cluster) failureFor(server string, command string) error {
	for key, err := range c.failures {
		if key.server == server && strings.HasPrefix(command, key.prefix) {
			return err
		}
	}
	return nil
}

func value(v string) sql.NullString {
	return sql.NullString{String: v, Valid: true}
}

func (c *Cluster) apply(s *Server, stmt DO.Statement) (DO.Result, error) {
	command := stmt.SQL
	switch {
	case command == SQL.Dml_show_slave_status:
		if !s.IsSlave {
			return DO.Result{Rows: []DO.Row{}}, nil
		}
		row := DO.Row{
			"Slave_IO_Running":      value(s.IoRunning),
			"Slave_SQL_Running":     value(s.SqlRunning),
			"Master_Log_File":       value(s.MasterLogFile),
			"Read_Master_Log_Pos":   value(s.ReadMasterLogPos),
			"Relay_Log_Pos":         value(s.RelayLogPos),
			"Relay_Master_Log_File": value(s.RelayMasterLogFile),
			"Exec_Master_Log_Pos":   value(s.ExecMasterLogPos),
			"Seconds_Behind_Master": {},
		}
		if s.Lag != nil {
			row["Seconds_Behind_Master"] = value(fmt.Sprint(*s.Lag))
		}
		return DO.Result{Rows: []DO.Row{row}}, nil

	case command == SQL.Dml_show_master_status:
		if s.MasterFile == "" {
			return DO.Result{Rows: []DO.Row{}}, nil
		}
		return DO.Result{Rows: []DO.Row{{"File": value(s.MasterFile), "Position": value(s.MasterPosition)}}}, nil

	case command == SQL.Dml_get_gtid_mode:
		return DO.Result{Rows: []DO.Row{{"variable_value": value(s.GtidMode)}}}, nil

	case command == SQL.Cmd_start_slave_io:
		if s.IsSlave && !s.Blocked {
			s.IoRunning = "Yes"
		}
		return DO.Result{}, nil

	case command == SQL.Cmd_start_slave_sql:
		if s.IsSlave && !s.Blocked {
			s.SqlRunning = "Yes"
		}
		return DO.Result{}, nil

	case command == SQL.Cmd_start_slave:
		if s.IsSlave && !s.Blocked {
			s.IoRunning, s.SqlRunning = "Yes", "Yes"
		}
		return DO.Result{}, nil

	case command == SQL.Cmd_stop_slave:
		if s.IsSlave {
			s.IoRunning, s.SqlRunning = "No", "No"
		}
		return DO.Result{}, nil

	case strings.HasPrefix(command, "INSERT INTO"):
		if len(stmt.Args) != 3 {
			return DO.Result{}, errors.New("probe insert expects 3 arguments")
		}
		row := probeRow{tag: fmt.Sprint(stmt.Args[0]), created: fmt.Sprint(stmt.Args[1]), data: fmt.Sprint(stmt.Args[2])}
		s.rows = append(s.rows, row)
		c.replicate(s.Id, row)
		return DO.Result{InsertId: int64(len(s.rows)), Affected: 1}, nil

	case strings.HasPrefix(command, "SELECT `master_slave`"):
		return DO.Result{Rows: c.match(s, stmt.Args)}, nil

	case strings.HasPrefix(command, "DELETE FROM"):
		tag := fmt.Sprint(stmt.Args[0])
		kept := s.rows[:0]
		var removed int64
		for _, row := range s.rows {
			if row.tag == tag {
				removed++
				continue
			}
			kept = append(kept, row)
		}
		s.rows = kept
		return DO.Result{Affected: removed}, nil
	}
	// RESET, CHANGE MASTER, SET GLOBAL, FLUSH, UNLOCK, CREATE
	return DO.Result{}, nil
}

func (c *Cluster) replicate(source string, row probeRow) {
	for _, slave := range c.servers {
		if !slave.IsSlave || slave.Source != source || slave.DropReplication {
			continue
		}
		if slave.IoRunning != "Yes" || slave.SqlRunning != "Yes" {
			continue
		}
		copied := row
		copied.visibleAt = c.now().Add(slave.ReplicationDelay)
		if slave.CorruptReplication {
			copied.created = "1970-01-01 00:00:00"
		}
		slave.rows = append(slave.rows, copied)
	}
}

// match serves both probe selects: (tag, created, data) on the master, (tag, data) on the slave
func (c *Cluster) match(s *Server, args []interface{}) []DO.Row {
	out := []DO.Row{}
	for _, row := range s.rows {
		if c.now().Before(row.visibleAt) {
			continue
		}
		ok := false
		switch len(args) {
		case 3:
			ok = row.tag == fmt.Sprint(args[0]) && row.created == fmt.Sprint(args[1]) && row.data == fmt.Sprint(args[2])
		case 2:
			ok = row.tag == fmt.Sprint(args[0]) && row.data == fmt.Sprint(args[1])
		}
		if ok {
			out = append(out, DO.Row{
				"master_slave": value(row.tag),
				"created":      value(row.created),
				"data":         value(row.data),
			})
		}
	}
	return out
}
