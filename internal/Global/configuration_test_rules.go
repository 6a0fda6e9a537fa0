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

package Global

type sanityRule struct {
	name    string
	config  func() Configuration
	problem string // empty means valid
}

func testConfigFactory() Configuration {
	var config Configuration
	config.fillDefaults()
	config.Log.ServerId = "robin"
	config.Servers = []Server{
		{Id: "robin", Host: "10.0.0.1", Port: 3306, User: "monitor", Password: "secret"},
		{Id: "demeter", Host: "10.0.0.2", Port: 3306, User: "monitor", Password: "secret"},
	}
	config.Topologies = []Topology{
		{Group: "Top_1", Master: "robin", Slave: "demeter", ActiveCheck: true},
	}
	return config
}

func rulesTestSanityCheck() []sanityRule {
	return []sanityRule{
		{name: "valid", config: testConfigFactory},
		{name: "no servers", problem: "no servers defined", config: func() Configuration {
			c := testConfigFactory()
			c.Servers = nil
			return c
		}},
		{name: "no topologies", problem: "no topologies defined", config: func() Configuration {
			c := testConfigFactory()
			c.Topologies = nil
			return c
		}},
		{name: "duplicate server", problem: "defined more than once", config: func() Configuration {
			c := testConfigFactory()
			c.Servers = append(c.Servers, c.Servers[0])
			return c
		}},
		{name: "bad server id", problem: "invalid characters", config: func() Configuration {
			c := testConfigFactory()
			c.Servers[1].Id = "deme'ter"
			c.Topologies[0].Slave = "deme'ter"
			return c
		}},
		{name: "unknown slave", problem: "unknown slave |hermes|", config: func() Configuration {
			c := testConfigFactory()
			c.Topologies[0].Slave = "hermes"
			return c
		}},
		{name: "same master and slave", problem: "same server as master and slave", config: func() Configuration {
			c := testConfigFactory()
			c.Topologies[0].Slave = "robin"
			return c
		}},
		{name: "unknown log server", problem: "log serverId |zeus|", config: func() Configuration {
			c := testConfigFactory()
			c.Log.ServerId = "zeus"
			return c
		}},
		{name: "memory backend does not need a log server", config: func() Configuration {
			c := testConfigFactory()
			c.Log.ServerId = ""
			c.Log.Backend = "memory"
			return c
		}},
		{name: "unsupported backend", problem: "backend |redis|", config: func() Configuration {
			c := testConfigFactory()
			c.Log.Backend = "redis"
			return c
		}},
		{name: "invalid test schema", problem: "testSchema", config: func() Configuration {
			c := testConfigFactory()
			c.Monitor.TestSchema = "util`; DROP"
			return c
		}},
		{name: "zero seconds to fail", problem: "secondsToFail", config: func() Configuration {
			c := testConfigFactory()
			c.Monitor.SecondsToFail = 0
			return c
		}},
		{name: "negative healing", problem: "maxHealingPerEmailFreq", config: func() Configuration {
			c := testConfigFactory()
			c.Log.MaxHealingPerEmailFreq = -1
			return c
		}},
	}
}
