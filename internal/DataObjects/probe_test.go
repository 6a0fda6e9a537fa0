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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	DO "replication_monitor/internal/DataObjects"
	"replication_monitor/internal/Simulator"
)

func testClusterFactory() *Simulator.Cluster {
	cluster := Simulator.New()
	cluster.Master("robin")
	cluster.Slave("demeter", "robin")
	return cluster
}

func TestProbe_RoundTripCleansMaster(t *testing.T) {
	cluster := testClusterFactory()
	probe, err := DO.NewProbe(cluster, "test", 10*time.Millisecond)
	require.NoError(t, err)

	result := probe.Run(context.Background(), DO.NewSession(nil), "robin", "demeter", time.Second)
	assert.Equal(t, DO.ProbeHealthy, result.Status)
	assert.GreaterOrEqual(t, result.Seconds, 0.0)
	assert.Equal(t, 0, cluster.ProbeRows("robin"))
	assert.Equal(t, 1, cluster.Count("robin", "DELETE FROM"))
}

func TestProbe_TimeoutLeavesMarker(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", func(s *Simulator.Server) { s.DropReplication = true })
	probe, err := DO.NewProbe(cluster, "test", 50*time.Millisecond)
	require.NoError(t, err)
	sess := DO.NewSession(nil)

	start := time.Now()
	result := probe.Run(context.Background(), sess, "robin", "demeter", time.Second)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, DO.ProbeFailed, result.Status)
	assert.Equal(t, DO.FailureMissing, result.Failure)
	assert.Equal(t, -1.0, result.Seconds)
	assert.Equal(t, 1, cluster.ProbeRows("robin"), "the marker stays on the master")
	assert.Equal(t, 0, cluster.Count("robin", "DELETE FROM"))
	assert.Contains(t, sess.Errors(), "Could Not Query Slave@<b>demeter</b>")
}

func TestProbe_CorruptRowIsMismatch(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", func(s *Simulator.Server) { s.CorruptReplication = true })
	probe, err := DO.NewProbe(cluster, "test", 10*time.Millisecond)
	require.NoError(t, err)
	sess := DO.NewSession(nil)

	result := probe.Run(context.Background(), sess, "robin", "demeter", time.Second)
	assert.Equal(t, DO.FailureMismatch, result.Failure)
	assert.Equal(t, 1, cluster.ProbeRows("robin"))
	require.NotEmpty(t, sess.Errors())
	assert.Contains(t, sess.Errors()[0], "Mismatched created")
}

func TestProbe_CancelledContext(t *testing.T) {
	cluster := testClusterFactory()
	cluster.Update("demeter", func(s *Simulator.Server) { s.DropReplication = true })
	probe, err := DO.NewProbe(cluster, "test", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := probe.Run(ctx, DO.NewSession(nil), "robin", "demeter", time.Minute)
	assert.True(t, result.Failed())
}
