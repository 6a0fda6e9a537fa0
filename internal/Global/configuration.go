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

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Tusamarco/toml"
	log "github.com/sirupsen/logrus"
)

/*
Here we have the references objects and methods to deal with the configuration file
Configuration is written in toml using the libraries found in: github.com/Tusamarco/toml
Configuration file has these sections:
	[global]     process behaviour, log and lock
	[monitor]    probe and healing tuning
	[log]        event and email history store, alert throttling
	[mailer]     SMTP transport
	[[servers]]  one block per server
	[[topologies]] one block per master/slave edge
*/

// Configuration is the container for all the sections
type Configuration struct {
	Global     GlobalMonitor `toml:"global"`
	Monitor    MonitorConf   `toml:"monitor"`
	Log        LogStore      `toml:"log"`
	Mailer     MailerConf    `toml:"mailer"`
	Servers    []Server      `toml:"servers"`
	Topologies []Topology    `toml:"topologies"`
}

// Process wide settings
type GlobalMonitor struct {
	LogLevel        string `toml:"logLevel"`
	LogTarget       string `toml:"logTarget"` // #stdout | file
	LogFile         string `toml:"logFile"`
	Daemonize       bool   `toml:"daemonize"`
	DaemonInterval  int    `toml:"daemonInterval"`
	Performance     bool   `toml:"performance"`
	LockFilePath    string `toml:"lockFilePath"`
	LockFileTimeout int64  `toml:"lockFileTimeout"`
	ParallelEdges   bool   `toml:"parallelEdges"`
	MetricsAddress  string `toml:"metricsAddress"`
}

type MonitorConf struct {
	TestSchema          string `toml:"testSchema"`
	SecondsToFail       int    `toml:"secondsToFail"`
	PollIntervalMs      int    `toml:"pollIntervalMs"`
	SkipIntervalMs      int    `toml:"skipIntervalMs"`
	MaxSkipAttempts     int    `toml:"maxSkipAttempts"`
	ConnectTimeoutMs    int    `toml:"connectTimeoutMs"`
	BootstrapTestSchema bool   `toml:"bootstrapTestSchema"`
}

// LogStore is where the timeline and the email history live
type LogStore struct {
	ServerId               string `toml:"serverId"`
	Schema                 string `toml:"schema"`
	Backend                string `toml:"backend"` // mysql | memory
	EmailFreqMinutes       int    `toml:"emailFreqMinutes"`
	MaxHealingPerEmailFreq int    `toml:"maxHealingPerEmailFreq"`
	RecordDebugs           bool   `toml:"recordDebugs"`
	Lazy                   bool   `toml:"lazy"`
}

type MailerConf struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	SmtpAuth    bool   `toml:"smtpAuth"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	SmtpSecure  string `toml:"smtpSecure"` // ssl | tls | none
	FromAddress string `toml:"fromAddress"`
	FromName    string `toml:"fromName"`
	ToAddress   string `toml:"toAddress"`
	ToName      string `toml:"toName"`
	IsHtml      bool   `toml:"isHtml"`
}

// Server is immutable after load and referenced by Id everywhere else
type Server struct {
	Id       string `toml:"id"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Topology is one monitored master -> slave relationship
type Topology struct {
	Group       string `toml:"group"`
	Master      string `toml:"master"`
	Slave       string `toml:"slave"`
	ActiveCheck bool   `toml:"activeCheck"`
}

const (
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
	maxTagLength  = 50
)

var (
	serverIdPattern   = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)
)

// ConfigError collects every problem found in the configuration
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (conf *Configuration) fillDefaults() {
	conf.Global.LogLevel = "info"
	conf.Global.LogTarget = "stdout"
	conf.Global.DaemonInterval = 60000
	conf.Global.LockFilePath = "/tmp"
	conf.Global.LockFileTimeout = 300

	conf.Monitor.TestSchema = "util_replication"
	conf.Monitor.SecondsToFail = 10
	conf.Monitor.PollIntervalMs = 10
	conf.Monitor.SkipIntervalMs = 100
	conf.Monitor.MaxSkipAttempts = 10
	conf.Monitor.ConnectTimeoutMs = 1000
	conf.Monitor.BootstrapTestSchema = true

	conf.Log.Schema = "sram_log"
	conf.Log.Backend = BackendMySQL
	conf.Log.EmailFreqMinutes = 60
	conf.Log.MaxHealingPerEmailFreq = 3

	conf.Mailer.Port = 465
	conf.Mailer.SmtpAuth = true
	conf.Mailer.SmtpSecure = "ssl"
	conf.Mailer.IsHtml = true
}

// GetConfig decodes the file on top of the defaults
func GetConfig(path string) (Configuration, error) {
	var config Configuration
	config.fillDefaults()
	meta, err := toml.DecodeFile(path, &config)
	if err != nil {
		return config, fmt.Errorf("cannot decode %s: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		log.Warning(fmt.Sprintf("Configuration key %s is not recognized and will be ignored", key.String()))
	}
	return config, nil
}

// SanityCheck validates the topology once at load
// anything found here is fatal, no partial operation is allowed
func (conf *Configuration) SanityCheck() error {
	cerr := &ConfigError{}

	if len(conf.Servers) == 0 {
		cerr.add("no servers defined")
	}
	if len(conf.Topologies) == 0 {
		cerr.add("no topologies defined")
	}

	known := make(map[string]bool, len(conf.Servers))
	for i, server := range conf.Servers {
		switch {
		case server.Id == "":
			cerr.add("server #%d has an empty id", i+1)
			continue
		case !serverIdPattern.MatchString(server.Id):
			cerr.add("server id |%s| contains invalid characters", server.Id)
		case known[server.Id]:
			cerr.add("server id %s is defined more than once", server.Id)
		}
		if server.Host == "" {
			cerr.add("server %s has no host", server.Id)
		}
		if server.Port <= 0 {
			conf.Servers[i].Port = 3306
		}
		known[server.Id] = true
	}

	for i, topology := range conf.Topologies {
		if !known[topology.Master] {
			cerr.add("topology #%d (%s) references unknown master |%s|", i+1, topology.Group, topology.Master)
		}
		if !known[topology.Slave] {
			cerr.add("topology #%d (%s) references unknown slave |%s|", i+1, topology.Group, topology.Slave)
		}
		if topology.Master != "" && topology.Master == topology.Slave {
			cerr.add("topology #%d (%s) has the same server as master and slave", i+1, topology.Group)
		}
		if len(topology.Master)+len(topology.Slave)+1 > maxTagLength {
			cerr.add("topology #%d (%s) tag %s_%s exceeds %d characters", i+1, topology.Group, topology.Master, topology.Slave, maxTagLength)
		}
	}

	if !identifierPattern.MatchString(conf.Monitor.TestSchema) {
		cerr.add("testSchema |%s| is not a valid identifier", conf.Monitor.TestSchema)
	}
	if conf.Monitor.SecondsToFail <= 0 {
		cerr.add("secondsToFail must be greater than 0")
	}
	if conf.Monitor.PollIntervalMs <= 0 {
		conf.Monitor.PollIntervalMs = 10
	}
	if conf.Monitor.SkipIntervalMs < 0 {
		conf.Monitor.SkipIntervalMs = 100
	}
	if conf.Monitor.MaxSkipAttempts <= 0 {
		conf.Monitor.MaxSkipAttempts = 10
	}

	switch strings.ToLower(conf.Log.Backend) {
	case BackendMySQL:
		if !known[conf.Log.ServerId] {
			cerr.add("log serverId |%s| is not a defined server", conf.Log.ServerId)
		}
		if !identifierPattern.MatchString(conf.Log.Schema) {
			cerr.add("log schema |%s| is not a valid identifier", conf.Log.Schema)
		}
	case BackendMemory:
		log.Warning("Log backend is memory: alert throttling will not survive the process")
	default:
		cerr.add("log backend |%s| is not supported", conf.Log.Backend)
	}
	conf.Log.Backend = strings.ToLower(conf.Log.Backend)

	if conf.Log.EmailFreqMinutes <= 0 {
		cerr.add("emailFreqMinutes must be greater than 0")
	}
	if conf.Log.MaxHealingPerEmailFreq < 0 {
		cerr.add("maxHealingPerEmailFreq cannot be negative")
	}

	if conf.Mailer.Host == "" {
		log.Warning("Mailer host is empty, reports will only be written to the log")
	}

	if conf.Global.LockFilePath == "" || !CheckIfPathExists(conf.Global.LockFilePath) {
		log.Warn(fmt.Sprintf("LockFilePath is invalid. Currently set to: |%s|  I will set to /tmp/ ", conf.Global.LockFilePath))
		conf.Global.LockFilePath = "/tmp"
	}

	if len(cerr.Problems) > 0 {
		return cerr
	}
	return nil
}

// Server returns the descriptor for id
func (conf *Configuration) Server(id string) (Server, bool) {
	for _, server := range conf.Servers {
		if server.Id == id {
			return server, true
		}
	}
	return Server{}, false
}

func (conf *Configuration) ProbeDeadline() time.Duration {
	return time.Duration(conf.Monitor.SecondsToFail) * time.Second
}

func (conf *Configuration) EmailWindow() time.Duration {
	return time.Duration(conf.Log.EmailFreqMinutes) * time.Minute
}
