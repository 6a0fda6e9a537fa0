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


package Monitor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	global "replication_monitor/internal/Global"
	"replication_monitor/internal/Simulator"
	store "replication_monitor/internal/Store"
)

type recordingMailer struct {
	sync.Mutex
	subjects []string
}

func (r *recordingMailer) Send(ctx context.Context, subject string, html string, plain string) error {
	r.Lock()
	defer r.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func testConfigFactory(topologies ...global.Topology) global.Configuration {
	if len(topologies) == 0 {
		topologies = []global.Topology{{Group: "Top_1", Master: "robin", Slave: "demeter", ActiveCheck: true}}
	}
	return global.Configuration{
		Monitor: global.MonitorConf{
			TestSchema:          "util_replication",
			SecondsToFail:       10,
			PollIntervalMs:      5,
			SkipIntervalMs:      0,
			MaxSkipAttempts:     10,
			BootstrapTestSchema: true,
		},
		Log: global.LogStore{
			Backend:                global.BackendMemory,
			EmailFreqMinutes:       60,
			MaxHealingPerEmailFreq: 3,
		},
		Servers: []global.Server{
			{Id: "robin", Host: "10.0.0.1", Port: 3306},
			{Id: "demeter", Host: "10.0.0.2", Port: 3306},
			{Id: "hermes", Host: "10.0.0.3", Port: 3306},
		},
		Topologies: topologies,
	}
}

type monitorFixture struct {
	monitor *Monitor
	cluster *Simulator.Cluster
	history *store.MemoryStore
	mailer  *recordingMailer
}

func testMonitorFactory(t *testing.T, config global.Configuration) monitorFixture {
	cluster := Simulator.New()
	cluster.Master("robin")
	cluster.Slave("demeter", "robin")
	cluster.Slave("hermes", "robin")

	history := store.NewMemoryStore()
	mailer := &recordingMailer{}
	monitor, err := New(config, cluster, history, mailer, nil)
	require.NoError(t, err)
	return monitorFixture{monitor: monitor, cluster: cluster, history: history, mailer: mailer}
}

type detectRule struct {
	name     string
	breakage func(c *Simulator.Cluster)
	want     []string
}

func rulesTestDetect() []detectRule {
	lag := int64(25)
	return []detectRule{
		{name: "healthy", breakage: func(c *Simulator.Cluster) {}, want: nil},
		{name: "io thread stopped",
			breakage: func(c *Simulator.Cluster) { c.Update("demeter", func(s *Simulator.Server) { s.IoRunning = "No" }) },
			want:     []string{"Cannot get Slave <b>demeter</b> status."}},
		{name: "lag over threshold",
			breakage: func(c *Simulator.Cluster) { c.Update("demeter", func(s *Simulator.Server) { s.Lag = &lag }) },
			want:     []string{"Slave <b>demeter</b> exceeds by 15 sec(s) threshold of 10 to be behind master."}},
		{name: "gtid modes differ",
			breakage: func(c *Simulator.Cluster) { c.Update("robin", func(s *Simulator.Server) { s.GtidMode = "ON" }) },
			want:     []string{"Master <b>robin</b> and Slave <b>demeter</b> have different GTID modes: ON != OFF."}},
		{name: "probe row altered",
			breakage: func(c *Simulator.Cluster) { c.Update("demeter", func(s *Simulator.Server) { s.CorruptReplication = true }) },
			want:     []string{"Slave <b>demeter</b> failed active check with Master <b>robin</b>."}},
		{name: "not a slave",
			breakage: func(c *Simulator.Cluster) { c.Update("demeter", func(s *Simulator.Server) { s.IsSlave = false }) },
			want:     []string{"Cannot get Slave <b>demeter</b> status."}},
	}
}
