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


package Store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	global "replication_monitor/internal/Global"
	SQL "replication_monitor/internal/Sql/Log"
)

// Connector runs fn on the single serialized session of a server
type Connector interface {
	Do(ctx context.Context, serverId string, fn func(ctx context.Context, conn *sql.Conn) error) error
}

// MySQLStore keeps timeline and emails in a schema on one of the monitored servers
type MySQLStore struct {
	conn     Connector
	serverId string
	schema   string // quoted
}

func NewMySQLStore(conn Connector, serverId string, schema string) (*MySQLStore, error) {
	quoted, err := global.QuoteIdentifier(schema)
	if err != nil {
		return nil, fmt.Errorf("log schema: %w", err)
	}
	return &MySQLStore{conn: conn, serverId: serverId, schema: quoted}, nil
}

func (s *MySQLStore) render(statement string) string {
	return fmt.Sprintf(statement, s.schema)
}

func (s *MySQLStore) Init(ctx context.Context) error {
	return s.conn.Do(ctx, s.serverId, func(ctx context.Context, conn *sql.Conn) error {
		for _, ddl := range []string{SQL.Ddl_create_schema, SQL.Ddl_create_timeline, SQL.Ddl_create_emails} {
			if _, err := conn.ExecContext(ctx, s.render(ddl)); err != nil {
				return fmt.Errorf("log store bootstrap on %s: %w", s.serverId, err)
			}
		}
		log.Debug("Log store ready on ", s.serverId, " schema ", s.schema)
		return nil
	})
}

func (s *MySQLStore) AppendEvent(ctx context.Context, event Event) (int64, error) {
	var id int64
	err := s.conn.Do(ctx, s.serverId, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, s.render(SQL.Dml_insert_event),
			event.Timestamp.Format(TimestampLayout), event.IsError, truncateEvent(event.Text))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (s *MySQLStore) EventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	var events []Event
	err := s.conn.Do(ctx, s.serverId, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, s.render(SQL.Dml_select_events_since), since.Format(TimestampLayout))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var event Event
			var timestamp string
			if err := rows.Scan(&event.Id, &timestamp, &event.IsError, &event.IsHidden, &event.Text); err != nil {
				return err
			}
			if event.Timestamp, err = time.ParseInLocation(TimestampLayout, timestamp, time.Local); err != nil {
				return fmt.Errorf("timeline %d timestamp |%s|: %w", event.Id, timestamp, err)
			}
			events = append(events, event)
		}
		return rows.Err()
	})
	return events, err
}

func (s *MySQLStore) HideEvent(ctx context.Context, id int64) error {
	return s.conn.Do(ctx, s.serverId, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, s.render(SQL.Dml_hide_event), id)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("timeline event %d not found or already hidden", id)
		}
		return nil
	})
}

func (s *MySQLStore) CountEmailsSince(ctx context.Context, since time.Time, messageType MessageType) (int, error) {
	return s.count(ctx, s.render(SQL.Dml_count_emails_since), since.Format(TimestampLayout), string(messageType))
}

func (s *MySQLStore) CountEmailsMatching(ctx context.Context, hash string, messageType MessageType, since time.Time) (int, error) {
	return s.count(ctx, s.render(SQL.Dml_count_emails_matching), hash, since.Format(TimestampLayout), string(messageType))
}

func (s *MySQLStore) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var count int
	err := s.conn.Do(ctx, s.serverId, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query, args...).Scan(&count)
	})
	return count, err
}

func (s *MySQLStore) AppendEmail(ctx context.Context, record EmailRecord) error {
	return s.conn.Do(ctx, s.serverId, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, s.render(SQL.Dml_insert_email),
			record.Timestamp.Format(TimestampLayout), record.Status, string(record.Type),
			record.Subject, record.Message, record.Hash)
		return err
	})
}
