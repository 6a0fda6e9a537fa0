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
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	global "replication_monitor/internal/Global"
	SQL "replication_monitor/internal/Sql/Replication"
)

// QueryError is a command that failed on a reachable server
type QueryError struct {
	Server  string
	Command string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query on %s {%s}: %v", e.Server, e.Command, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func queryFailureText(server string, command string, err error) string {
	return fmt.Sprintf("Could not successfully run query [%s] {%s} - %v", server, command, err)
}

// failureText is the event text of an error returned by a Silent statement
func failureText(err error) string {
	var qerr *QueryError
	if errors.As(err, &qerr) {
		return queryFailureText(qerr.Server, qerr.Command, qerr.Err)
	}
	return err.Error()
}

// Statement is one command with its parameters.
// Schema empty means the executor default (the probe schema).
// Cacheable reads are kept for the rest of the cycle, Silent failures are logged but not raised as events.
// NoSchema runs on whatever schema is current, needed before the schema exists.
type Statement struct {
	SQL       string
	Args      []interface{}
	Schema    string
	Cacheable bool
	Silent    bool
	NoSchema  bool
}

func Command(command string) Statement {
	return Statement{SQL: command}
}

func Read(command string) Statement {
	return Statement{SQL: command, Cacheable: true}
}

// Row keeps NULL apart from empty
type Row map[string]sql.NullString

func (r Row) Get(column string) string {
	return r[column].String
}

func (r Row) IsNull(column string) bool {
	value, ok := r[column]
	return !ok || !value.Valid
}

type Result struct {
	Rows     []Row
	InsertId int64
	Affected int64
}

// Runner is what every component uses to talk to a server
type Runner interface {
	Execute(ctx context.Context, sess *Session, serverId string, stmt Statement) (Result, error)
}

type commandKind int

const (
	kindRows commandKind = iota
	kindInsert
	kindExec
)

func classify(command string) commandKind {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return kindExec
	}
	switch strings.ToLower(fields[0]) {
	case "select", "show":
		return kindRows
	case "insert":
		return kindInsert
	default:
		return kindExec
	}
}

type Executor struct {
	registry      *Registry
	defaultSchema string
}

func NewExecutor(registry *Registry, defaultSchema string) *Executor {
	return &Executor{registry: registry, defaultSchema: defaultSchema}
}

/*
Execute selects the schema and runs the command:
	insert          -> InsertId
	select / show   -> Rows, empty when nothing matched
	anything else   -> Affected
*/
func (e *Executor) Execute(ctx context.Context, sess *Session, serverId string, stmt Statement) (Result, error) {
	kind := classify(stmt.SQL)
	cacheable := stmt.Cacheable && kind == kindRows && len(stmt.Args) == 0
	if cacheable {
		if result, ok := sess.cached(serverId, stmt.SQL); ok {
			log.Debug("Cache hit [", serverId, "] ", stmt.SQL)
			return result, nil
		}
	}

	if err := sess.Unreachable(serverId); err != nil {
		return Result{}, err
	}
	if !e.registry.Connect(ctx, sess, serverId) {
		cerr := &ConnectionError{Server: serverId, Err: fmt.Errorf("not connected")}
		sess.MarkUnreachable(serverId, cerr)
		return Result{}, cerr
	}

	schema := stmt.Schema
	if schema == "" {
		schema = e.defaultSchema
	}
	if stmt.NoSchema {
		schema = ""
	}

	var result Result
	err := e.registry.withHandle(ctx, serverId, func(ctx context.Context, h *handle) error {
		if schema != "" {
			quoted, err := global.QuoteIdentifier(schema)
			if err != nil {
				return err
			}
			if h.schema != quoted {
				if _, err := h.conn.ExecContext(ctx, fmt.Sprintf(SQL.Cmd_use_schema, quoted)); err != nil {
					return err
				}
				h.schema = quoted
			}
		}
		var err error
		result, err = run(ctx, h.conn, kind, stmt)
		return err
	})

	if err != nil {
		var cerr *ConnectionError
		if errors.As(err, &cerr) {
			sess.MarkUnreachable(serverId, cerr)
		}
		if stmt.Silent {
			log.Debug("Query failed [", serverId, "] {", stmt.SQL, "} - ", err)
		} else {
			sess.AddError(ctx, queryFailureText(serverId, stmt.SQL, err))
		}
		return Result{}, &QueryError{Server: serverId, Command: stmt.SQL, Err: err}
	}

	if cacheable {
		sess.remember(serverId, stmt.SQL, result)
	}
	return result, nil
}

func run(ctx context.Context, conn *sql.Conn, kind commandKind, stmt Statement) (Result, error) {
	var result Result
	switch kind {
	case kindRows:
		rows, err := conn.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return result, err
		}
		result.Rows, err = scanRows(rows)
		return result, err
	default:
		res, err := conn.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return result, err
		}
		if kind == kindInsert {
			result.InsertId, _ = res.LastInsertId()
		}
		result.Affected, _ = res.RowsAffected()
		return result, nil
	}
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []Row{}
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// runAll runs every command even after a failure, like an operator typing them in sequence
func runAll(ctx context.Context, sess *Session, runner Runner, serverId string, commands ...string) bool {
	ok := true
	for _, command := range commands {
		if _, err := runner.Execute(ctx, sess, serverId, Command(command)); err != nil {
			ok = false
		}
	}
	return ok
}
