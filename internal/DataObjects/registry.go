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
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
	global "replication_monitor/internal/Global"
)

var ErrUnknownServer = errors.New("no credentials for server")

// ConnectionError means the server could not be reached or authenticated
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func IsConnectionError(err error) bool {
	var cerr *ConnectionError
	return errors.As(err, &cerr)
}

// Opener is sql.Open unless a test needs something else
type Opener func(driverName string, dsn string) (*sql.DB, error)

/*
Registry owns exactly one session per server id.
Every *sql.DB is limited to one connection and that connection is pinned as *sql.Conn,
so schema selection and FLUSH TABLES WITH READ LOCK / UNLOCK TABLES always land on the same session.
The per handle mutex serializes all the callers working on the same server.
*/
type Registry struct {
	mu             sync.Mutex
	servers        map[string]global.Server
	handles        map[string]*handle
	open           Opener
	connectTimeout time.Duration
}

type handle struct {
	sync.Mutex
	db     *sql.DB
	conn   *sql.Conn
	schema string // currently selected, quoted
}

func NewRegistry(servers []global.Server, connectTimeout time.Duration) *Registry {
	r := &Registry{
		servers:        make(map[string]global.Server, len(servers)),
		handles:        make(map[string]*handle, len(servers)),
		open:           sql.Open,
		connectTimeout: connectTimeout,
	}
	for _, server := range servers {
		r.servers[server.Id] = server
	}
	return r
}

func (r *Registry) WithOpener(open Opener) *Registry {
	r.open = open
	return r
}

func (r *Registry) handleFor(id string) (*handle, global.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.servers[id]
	if !ok {
		return nil, server, &ConnectionError{Server: id, Err: ErrUnknownServer}
	}
	h, ok := r.handles[id]
	if !ok {
		h = &handle{}
		r.handles[id] = h
	}
	return h, server, nil
}

func (r *Registry) dsn(server global.Server) string {
	cfg := mysql.NewConfig()
	cfg.User = server.User
	cfg.Passwd = server.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	cfg.Timeout = r.connectTimeout
	cfg.InterpolateParams = true
	return cfg.FormatDSN()
}

// ensure opens the handle when needed, caller holds the handle lock
func (r *Registry) ensure(ctx context.Context, h *handle, server global.Server) (bool, error) {
	if h.conn != nil {
		return false, nil
	}
	db, err := r.open("mysql", r.dsn(server))
	if err != nil {
		return false, err
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err == nil {
		err = conn.PingContext(ctx)
	}
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		db.Close()
		return false, err
	}
	h.db = db
	h.conn = conn
	h.schema = ""
	return true, nil
}

func (h *handle) reset() {
	if h.conn != nil {
		h.conn.Close()
	}
	if h.db != nil {
		h.db.Close()
	}
	h.conn = nil
	h.db = nil
	h.schema = ""
}

// Connect resolves the credentials and opens the session if not already there
func (r *Registry) Connect(ctx context.Context, sess *Session, id string) bool {
	h, server, err := r.handleFor(id)
	if err != nil {
		sess.AddError(ctx, fmt.Sprintf("Cannot find credentials for %s", id))
		return false
	}

	h.Lock()
	opened, err := r.ensure(ctx, h, server)
	h.Unlock()

	if err != nil {
		sess.AddError(ctx, fmt.Sprintf("Cannot connect to %s: %s@%s:%d %v", id, server.User, server.Host, server.Port, err))
		return false
	}
	if opened {
		sess.AddDebug(ctx, fmt.Sprintf("Connected to <b>%s</b> using %s@%s:%d.", id, server.User, server.Host, server.Port))
	}
	return true
}

// withHandle runs fn holding the server lock, a broken session is dropped so the next call reconnects
func (r *Registry) withHandle(ctx context.Context, id string, fn func(ctx context.Context, h *handle) error) error {
	h, server, err := r.handleFor(id)
	if err != nil {
		return err
	}
	h.Lock()
	defer h.Unlock()

	if _, err := r.ensure(ctx, h, server); err != nil {
		return &ConnectionError{Server: id, Err: err}
	}
	err = fn(ctx, h)
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		log.Warning("Session to ", id, " is broken, it will be reopened: ", err)
		h.reset()
	}
	return err
}

// Do exposes the serialized session to collaborators that run their own SQL (the log store)
func (r *Registry) Do(ctx context.Context, id string, fn func(ctx context.Context, conn *sql.Conn) error) error {
	return r.withHandle(ctx, id, func(ctx context.Context, h *handle) error {
		return fn(ctx, h.conn)
	})
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.handles {
		h.Lock()
		h.reset()
		h.Unlock()
		log.Debug("Connection to ", id, " closed")
	}
	r.handles = make(map[string]*handle)
}
