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
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	global "replication_monitor/internal/Global"
	SQL "replication_monitor/internal/Sql/Replication"
	store "replication_monitor/internal/Store"
)

type ProbeStatus int

const (
	ProbeHealthy ProbeStatus = iota
	// ProbeSlow replicated, but after the deadline
	ProbeSlow
	ProbeFailed
)

func (s ProbeStatus) String() string {
	switch s {
	case ProbeHealthy:
		return "healthy"
	case ProbeSlow:
		return "slow"
	default:
		return "failed"
	}
}

type ProbeFailure int

const (
	FailureNone ProbeFailure = iota
	FailureWrite
	FailureMaster
	FailureMissing
	FailureMismatch
)

// ProbeFailedSeconds is the Seconds value of a failed probe
const ProbeFailedSeconds = -1

type ProbeResult struct {
	Status  ProbeStatus
	Elapsed time.Duration
	Seconds float64 // rounded to the millisecond
	Failure ProbeFailure
	Reason  string
}

func (r ProbeResult) Failed() bool {
	return r.Status == ProbeFailed
}

// Probe writes a marker on the master and waits for it on the slave
type Probe struct {
	exec         Runner
	schema       string
	table        string // quoted schema, the table name is fixed
	pollInterval time.Duration
	marker       func() string
	now          func() time.Time
}

func NewProbe(exec Runner, schema string, pollInterval time.Duration) (*Probe, error) {
	quoted, err := global.QuoteIdentifier(schema)
	if err != nil {
		return nil, fmt.Errorf("probe schema: %w", err)
	}
	return &Probe{
		exec:         exec,
		schema:       schema,
		table:        quoted,
		pollInterval: pollInterval,
		marker:       newMarker,
		now:          time.Now,
	}, nil
}

// newMarker is a time based uuid without dashes, 32 characters like the data column
func newMarker() string {
	id, err := uuid.NewUUID()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

func (p *Probe) statement(command string, args ...interface{}) Statement {
	return Statement{SQL: fmt.Sprintf(command, p.table), Args: args, Schema: p.schema}
}

func failed(kind ProbeFailure, elapsed time.Duration, reason string) ProbeResult {
	return ProbeResult{Status: ProbeFailed, Elapsed: elapsed, Seconds: ProbeFailedSeconds, Failure: kind, Reason: reason}
}

/*
Run is the end to end check of one edge.
On success or slow success the tag rows are removed from the master before returning.
On failure the marker stays on the master for inspection.
*/
func (p *Probe) Run(ctx context.Context, sess *Session, masterId string, slaveId string, deadline time.Duration) ProbeResult {
	tag := masterId + "_" + slaveId
	created := p.now().Format(store.TimestampLayout)
	marker := p.marker()
	start := p.now()

	if _, err := p.exec.Execute(ctx, sess, masterId, p.statement(SQL.Dml_probe_insert, tag, created, marker)); err != nil {
		return failed(FailureWrite, p.now().Sub(start), "insert on master failed")
	}

	masterResult, err := p.exec.Execute(ctx, sess, masterId, p.statement(SQL.Dml_probe_select, tag, created, marker))
	if err != nil || len(masterResult.Rows) == 0 {
		reason := fmt.Sprintf("Could Not Query Master@<b>%s</b>", masterId)
		sess.AddError(ctx, reason)
		return failed(FailureMaster, p.now().Sub(start), reason)
	}
	if len(masterResult.Rows) != 1 {
		reason := fmt.Sprintf("Master@<b>%s</b> Query Returned %d rows", masterId, len(masterResult.Rows))
		sess.AddError(ctx, reason)
		return failed(FailureMaster, p.now().Sub(start), reason)
	}

	var slaveRows []Row
	lookup := p.statement(SQL.Dml_probe_select_slave, tag, marker)
	lookup.Silent = true
	for {
		result, err := p.exec.Execute(ctx, sess, slaveId, lookup)
		if err == nil && len(result.Rows) > 0 {
			slaveRows = result.Rows
			break
		}
		if IsConnectionError(err) {
			break
		}
		if p.now().Sub(start) >= deadline || !sleepContext(ctx, p.pollInterval) {
			break
		}
	}
	elapsed := p.now().Sub(start)

	if len(slaveRows) == 0 {
		reason := fmt.Sprintf("Could Not Query Slave@<b>%s</b>", slaveId)
		sess.AddError(ctx, reason)
		return failed(FailureMissing, elapsed, reason)
	}
	if len(slaveRows) != 1 {
		reason := fmt.Sprintf("Slave@<b>%s</b> Query Returned %d rows", slaveId, len(slaveRows))
		sess.AddError(ctx, reason)
		return failed(FailureMismatch, elapsed, reason)
	}

	masterRow, slaveRow := masterResult.Rows[0], slaveRows[0]
	mismatch := false
	for _, check := range []struct{ column, set string }{
		{"master_slave", tag},
		{"created", created},
		{"data", marker},
	} {
		if masterRow.Get(check.column) != check.set || slaveRow.Get(check.column) != check.set {
			sess.AddError(ctx, fmt.Sprintf("Mismatched %s master=%s slave=%s set=%s",
				check.column, masterRow.Get(check.column), slaveRow.Get(check.column), check.set))
			mismatch = true
		}
	}
	if mismatch {
		return failed(FailureMismatch, elapsed, fmt.Sprintf("Probe row on Slave@<b>%s</b> differs from Master@<b>%s</b>", slaveId, masterId))
	}

	p.exec.Execute(ctx, sess, masterId, p.statement(SQL.Dml_probe_delete, tag))

	result := ProbeResult{
		Status:  ProbeHealthy,
		Elapsed: elapsed,
		Seconds: math.Round(elapsed.Seconds()*1000) / 1000,
	}
	if elapsed > deadline {
		result.Status = ProbeSlow
		result.Reason = fmt.Sprintf("Finished with exceeding time: %.3f > %.0f sec(s)", result.Seconds, deadline.Seconds())
		sess.AddError(ctx, result.Reason)
		return result
	}
	sess.AddDebug(ctx, fmt.Sprintf("Active check Master@<b>%s</b> -> Slave@<b>%s</b> in %.3f sec(s)", masterId, slaveId, result.Seconds))
	return result
}

// sleepContext returns false if ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
