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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner stores the inserted marker and shows it on the slave after misses lookups.
// Every slave lookup advances the clock by step.
type scriptedRunner struct {
	clock    *time.Time
	step     time.Duration
	misses   int
	inserted []interface{}
	deleted  int
}

func (s *scriptedRunner) Execute(ctx context.Context, sess *Session, serverId string, stmt Statement) (Result, error) {
	switch {
	case strings.HasPrefix(stmt.SQL, "INSERT INTO"):
		s.inserted = stmt.Args
		return Result{Affected: 1}, nil
	case strings.HasPrefix(stmt.SQL, "DELETE FROM"):
		s.deleted++
		return Result{Affected: 1}, nil
	case strings.HasPrefix(stmt.SQL, "SELECT") && serverId == "demeter":
		*s.clock = s.clock.Add(s.step)
		if s.misses > 0 {
			s.misses--
			return Result{Rows: []Row{}}, nil
		}
		return Result{Rows: []Row{s.row()}}, nil
	case strings.HasPrefix(stmt.SQL, "SELECT"):
		return Result{Rows: []Row{s.row()}}, nil
	}
	return Result{}, nil
}

func (s *scriptedRunner) row() Row {
	row := Row{}
	for i, column := range []string{"master_slave", "created", "data"} {
		row[column] = sql.NullString{String: s.inserted[i].(string), Valid: true}
	}
	return row
}

func testProbeFactory(t *testing.T, runner *scriptedRunner) *Probe {
	probe, err := NewProbe(runner, "test_schema", 0)
	require.NoError(t, err)
	probe.now = func() time.Time { return *runner.clock }
	probe.marker = func() string { return "c1d2e3f4a5b6c7d8e9f0a1b2c3d4e5f6" }
	return probe
}

func TestProbeHealthy(t *testing.T) {
	clock := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	runner := &scriptedRunner{clock: &clock, step: 250 * time.Millisecond}
	sess := NewSession(nil)

	result := testProbeFactory(t, runner).Run(context.Background(), sess, "robin", "demeter", time.Second)
	assert.Equal(t, ProbeHealthy, result.Status)
	assert.Equal(t, 0.25, result.Seconds)
	assert.Equal(t, []interface{}{"robin_demeter", "2026-10-14 09:00:00", "c1d2e3f4a5b6c7d8e9f0a1b2c3d4e5f6"}, runner.inserted)
	assert.Equal(t, 1, runner.deleted)
	assert.Empty(t, sess.Errors())

	events := sess.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "Active check Master@<b>robin</b> -> Slave@<b>demeter</b> in 0.250 sec(s)", events[0].Text)
}

func TestProbeSlow(t *testing.T) {
	clock := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	runner := &scriptedRunner{clock: &clock, step: 600 * time.Millisecond, misses: 1}
	sess := NewSession(nil)

	result := testProbeFactory(t, runner).Run(context.Background(), sess, "robin", "demeter", time.Second)
	assert.Equal(t, ProbeSlow, result.Status)
	assert.False(t, result.Failed())
	assert.Equal(t, 1.2, result.Seconds)
	assert.Equal(t, 1, runner.deleted, "a slow marker is still cleaned")
	assert.Equal(t, []string{"Finished with exceeding time: 1.200 > 1 sec(s)"}, sess.Errors())
}

func TestProbeNeverArrives(t *testing.T) {
	clock := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	runner := &scriptedRunner{clock: &clock, step: 300 * time.Millisecond, misses: 100}
	sess := NewSession(nil)

	result := testProbeFactory(t, runner).Run(context.Background(), sess, "robin", "demeter", time.Second)
	assert.True(t, result.Failed())
	assert.Equal(t, FailureMissing, result.Failure)
	assert.Equal(t, float64(ProbeFailedSeconds), result.Seconds)
	assert.Equal(t, 0, runner.deleted)
	assert.Equal(t, []string{"Could Not Query Slave@<b>demeter</b>"}, sess.Errors())
}

func TestNewProbeRejectsSchema(t *testing.T) {
	_, err := NewProbe(&scriptedRunner{}, "test`; DROP", 0)
	assert.Error(t, err)
	assert.Len(t, newMarker(), 32)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, sleepContext(ctx, 0))
	cancel()
	assert.False(t, sleepContext(ctx, time.Hour))
	assert.False(t, sleepContext(ctx, 0))
}
