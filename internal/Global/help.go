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

type HelpText struct {
	inParams [2]string
}

func (help *HelpText) Init() {
	help.inParams = [2]string{"configfile", "configpath"}
}

func (help *HelpText) GetShortText() string {
	return "Replication monitor: checks master/slave pairs, heals them and throttles alerts"
}

func (help *HelpText) GetHelpText() string {
	helpText := `replication_monitor

Parameters for the executable --configfile <file name> --configpath <full path> <command>

Commands:
	test                                  run the checks and send the error report
	heal                                  run the checks, heal and send the healing report
	bootstrap                             create log and test schemas
	start-slave --slave <id>
	stop-slave --slave <id>
	skip-error --slave <id>
	restart-slave --master <id> --slave <id>
	reset-slave --slave <id>
	reset-slave-to-master --master <id> --slave <id>
	hide-event --id <timeline id>
	version

Parameters in the config file:
global:
	logLevel : [info] debug | info | warning | error
	logTarget : [stdout] Can be either a file or stdout
	logFile : In case file for logging define the target
	daemonize : [false] Loop test/heal without an external scheduler
	daemonInterval : [60000] Define in ms the time for looping when daemonize is true
	performance : [false] Report the time spent by phase
	lockFilePath : [/tmp] Where to place the run lock
	lockFileTimeout : [300] Seconds after which a lock held by a live process is considered stale
	parallelEdges : [false] Evaluate topologies in parallel
	metricsAddress : [] Address for the prometheus endpoint, empty disables it
monitor:
	testSchema : [util_replication] Schema holding the probe table on every server
	secondsToFail : [10] Probe deadline and lag threshold
	pollIntervalMs : [10] Wait between probe reads on the slave
	skipIntervalMs : [100] Wait between skip error attempts
	maxSkipAttempts : [10] Upper bound of the skip error loop
	connectTimeoutMs : [1000] Connection timeout
	bootstrapTestSchema : [true] Create the probe table on startup
log:
	serverId : Server holding the timeline and the email history
	schema : [sram_log]
	backend : [mysql] mysql | memory
	emailFreqMinutes : [60] Throttling window
	maxHealingPerEmailFreq : [3] Healing attempts allowed per window
	recordDebugs : [false] Persist debug events too
	lazy : [false] Persist events at the end of the cycle instead of immediately
mailer:
	host, port [465], smtpAuth [true], username, password, smtpSecure [ssl] ssl | tls | none,
	fromAddress, fromName, toAddress, toName, isHtml [true]
[[servers]]
	id, host, port [3306], user, password
[[topologies]]
	group, master, slave, activeCheck
`
	return helpText
}
