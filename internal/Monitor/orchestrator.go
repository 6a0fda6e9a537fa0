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
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"replication_monitor/internal/Alert"
	DO "replication_monitor/internal/DataObjects"
	global "replication_monitor/internal/Global"
	"replication_monitor/internal/Metrics"
	SQL "replication_monitor/internal/Sql/Replication"
	store "replication_monitor/internal/Store"
)

type FindingKind string

const (
	FindingThread      FindingKind = "thread"
	FindingLag         FindingKind = "lag"
	FindingProbe       FindingKind = "probe"
	FindingConsistency FindingKind = "consistency"
)

var findingKinds = []string{string(FindingThread), string(FindingLag), string(FindingProbe), string(FindingConsistency)}

// Finding is one unresolved condition, Message is what goes in the report
type Finding struct {
	Kind    FindingKind
	Edge    global.Topology
	Message string
}

func messages(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, finding := range findings {
		out = append(out, finding.Message)
	}
	return out
}

/*
Monitor runs the cycles over the configured topologies:
	Test         detect and report
	TestAndHeal  detect, report, heal within the allowed attempts, detect again and report the healing
Every cycle gets its own Session from NewSession.
*/
type Monitor struct {
	config    global.Configuration
	runner    DO.Runner
	store     store.Store
	eval      *DO.Evaluator
	probe     *DO.Probe
	healer    *DO.Healer
	throttler *Alert.Throttler
	metrics   *Metrics.Metrics
}

func New(config global.Configuration, runner DO.Runner, history store.Store, mailer Alert.Mailer, metrics *Metrics.Metrics) (*Monitor, error) {
	probe, err := DO.NewProbe(runner, config.Monitor.TestSchema, time.Duration(config.Monitor.PollIntervalMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	eval := DO.NewEvaluator(runner)
	return &Monitor{
		config:    config,
		runner:    runner,
		store:     history,
		eval:      eval,
		probe:     probe,
		healer:    DO.NewHealer(runner, eval, time.Duration(config.Monitor.SkipIntervalMs)*time.Millisecond, config.Monitor.MaxSkipAttempts),
		throttler: Alert.NewThrottler(history, mailer, config.EmailWindow(), config.Log.MaxHealingPerEmailFreq),
		metrics:   metrics,
	}, nil
}

func (m *Monitor) NewSession() *DO.Session {
	return DO.NewSession(m.store,
		DO.WithLazyFlush(m.config.Log.Lazy),
		DO.WithDebugRecording(m.config.Log.RecordDebugs))
}

/*
Prepare creates the log store tables and, when enabled, the probe table on every server.
Nothing here stops a cycle, the failures are returned for the caller to judge.
*/
func (m *Monitor) Prepare(ctx context.Context, sess *DO.Session) error {
	var errs []error
	if err := m.store.Init(ctx); err != nil {
		log.Warning("Log store not initialized: ", err)
		errs = append(errs, err)
	}
	if !m.config.Monitor.BootstrapTestSchema {
		return errors.Join(errs...)
	}

	quoted, err := global.QuoteIdentifier(m.config.Monitor.TestSchema)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, server := range m.config.Servers {
		for _, ddl := range []string{SQL.Ddl_create_test_schema, SQL.Ddl_create_test_table} {
			stmt := DO.Statement{SQL: fmt.Sprintf(ddl, quoted), NoSchema: true}
			if _, err := m.runner.Execute(ctx, sess, server.Id, stmt); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	if len(errs) == 0 {
		sess.AddDebug(ctx, fmt.Sprintf("Test schema %s ready on %d server(s)", quoted, len(m.config.Servers)))
	}
	return errors.Join(errs...)
}

// forEachEdge keeps the edge order in the output whether edges run in parallel or not
func forEachEdge[T any](ctx context.Context, parallel bool, limit int, edges []global.Topology, fn func(context.Context, global.Topology) T) []T {
	out := make([]T, len(edges))
	if !parallel {
		for i, edge := range edges {
			out[i] = fn(ctx, edge)
		}
		return out
	}
	group, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}
	for i, edge := range edges {
		i, edge := i, edge
		group.Go(func() error {
			out[i] = fn(gctx, edge)
			return nil
		})
	}
	group.Wait()
	return out
}

// Detect evaluates every edge and returns the findings in topology order
func (m *Monitor) Detect(ctx context.Context, sess *DO.Session) []Finding {
	perEdge := forEachEdge(ctx, m.config.Global.ParallelEdges, len(m.config.Servers), m.config.Topologies,
		func(ctx context.Context, edge global.Topology) []Finding {
			return m.detectEdge(ctx, sess, edge)
		})

	var findings []Finding
	counts := make(map[string]int)
	for _, edgeFindings := range perEdge {
		for _, finding := range edgeFindings {
			counts[string(finding.Kind)]++
		}
		findings = append(findings, edgeFindings...)
	}
	m.metrics.Findings(findingKinds, counts)
	return findings
}

func (m *Monitor) detectEdge(ctx context.Context, sess *DO.Session, edge global.Topology) []Finding {
	var findings []Finding
	add := func(kind FindingKind, format string, args ...interface{}) {
		findings = append(findings, Finding{Kind: kind, Edge: edge, Message: fmt.Sprintf(format, args...)})
	}

	status, err := m.eval.Snapshot(ctx, sess, edge.Slave, true)
	healthy := err == nil && m.eval.Check(ctx, sess, edge.Slave, &status)
	if !healthy {
		add(FindingThread, "Cannot get Slave <b>%s</b> status.", edge.Slave)
	}

	threshold := int64(m.config.Monitor.SecondsToFail)
	if status.SecondsBehindMaster.Valid && status.SecondsBehindMaster.Int64 > threshold {
		add(FindingLag, "Slave <b>%s</b> exceeds by %d sec(s) threshold of %d to be behind master.",
			edge.Slave, status.SecondsBehindMaster.Int64-threshold, threshold)
	}

	if edge.ActiveCheck {
		if healthy {
			result := m.probe.Run(ctx, sess, edge.Master, edge.Slave, m.config.ProbeDeadline())
			m.metrics.Probe(edge.Group, result.Seconds, result.Failed())
			if result.Failed() {
				add(FindingProbe, "Slave <b>%s</b> failed active check with Master <b>%s</b>.", edge.Slave, edge.Master)
			}
		} else {
			log.WithFields(log.Fields{"edge": edge.Group, "slave": edge.Slave}).Debug("Active check skipped, replication threads are down")
		}
	}

	masterMode, masterErr := m.eval.GtidMode(ctx, sess, edge.Master, true)
	slaveMode, slaveErr := m.eval.GtidMode(ctx, sess, edge.Slave, true)
	if masterErr == nil && slaveErr == nil && masterMode != slaveMode {
		add(FindingConsistency, "Master <b>%s</b> and Slave <b>%s</b> have different GTID modes: %s != %s.",
			edge.Master, edge.Slave, masterMode, slaveMode)
	}
	return findings
}

// Test is the detection only cycle, returns the number of findings
func (m *Monitor) Test(ctx context.Context, sess *DO.Session) int {
	perf := global.NewPerfTracker(m.config.Global.Performance)
	perf.Start("test", log.InfoLevel)
	defer perf.Report()
	defer perf.Stop("test")

	perf.Start("detect", log.DebugLevel)
	findings := m.Detect(ctx, sess)
	perf.Stop("detect")
	m.metrics.Cycle("test")

	if len(findings) > 0 {
		m.report(ctx, sess, findings)
	}
	m.flush(ctx, sess)
	return len(findings)
}

/*
TestAndHeal heals only when the throttler grants an attempt.
The cache is dropped before the second detection so it sees the state after healing.
*/
func (m *Monitor) TestAndHeal(ctx context.Context, sess *DO.Session) int {
	perf := global.NewPerfTracker(m.config.Global.Performance)
	perf.Start("heal", log.InfoLevel)
	defer perf.Report()
	defer perf.Stop("heal")

	perf.Start("detect", log.DebugLevel)
	findings := m.Detect(ctx, sess)
	perf.Stop("detect")
	m.metrics.Cycle("heal")

	if len(findings) == 0 {
		m.flush(ctx, sess)
		return 0
	}
	m.report(ctx, sess, findings)

	attempt, ok := m.throttler.ShouldAttemptHealing(ctx, sess)
	if !ok {
		m.flush(ctx, sess)
		return len(findings)
	}

	perf.Start("healing", log.DebugLevel)
	forEachEdge(ctx, m.config.Global.ParallelEdges, len(m.config.Servers), edgesOf(findings),
		func(ctx context.Context, edge global.Topology) bool {
			return m.healEdge(ctx, sess, edge)
		})
	perf.Stop("healing")

	sess.ResetCache()
	perf.Start("recheck", log.DebugLevel)
	remaining := m.Detect(ctx, sess)
	perf.Stop("recheck")

	steps := sess.Steps()
	descriptions := make([]string, 0, len(steps))
	for _, step := range steps {
		descriptions = append(descriptions, step.String())
		m.metrics.HealingStep(string(step.Outcome))
	}

	m.flush(ctx, sess)
	decision := m.throttler.ReportHealing(ctx, sess, descriptions, messages(remaining), attempt)
	m.metrics.Report(string(decision.Type), decision.Send)
	m.flush(ctx, sess)
	return len(remaining)
}

// edgesOf returns the distinct edges with findings, in order
func edgesOf(findings []Finding) []global.Topology {
	seen := make(map[global.Topology]bool)
	var edges []global.Topology
	for _, finding := range findings {
		if !seen[finding.Edge] {
			seen[finding.Edge] = true
			edges = append(edges, finding.Edge)
		}
	}
	return edges
}

/*
healEdge repairs the threads first, then the data path:
	threads down     full escalation
	probe mismatch   straight to the master position
	other failure    reset on the executed position, then the master position
GTID mode differences are left to the operator.
An edge with a server lost in this cycle is not probed again.
*/
func (m *Monitor) healEdge(ctx context.Context, sess *DO.Session, edge global.Topology) bool {
	healthy := m.eval.Check(ctx, sess, edge.Slave, nil)
	if !healthy {
		healthy = m.healer.Escalate(ctx, sess, edge.Master, edge.Slave)
	}
	if !edge.ActiveCheck {
		return healthy
	}
	if sess.Unreachable(edge.Slave) != nil || sess.Unreachable(edge.Master) != nil {
		return false
	}

	result := m.probe.Run(ctx, sess, edge.Master, edge.Slave, m.config.ProbeDeadline())
	if !result.Failed() {
		return healthy
	}
	prefix := fmt.Sprintf("Slave <b>%s</b> failed active check with Master <b>%s</b>", edge.Slave, edge.Master)

	if result.Failure != DO.FailureMismatch {
		m.healer.ResetSlave(ctx, sess, edge.Slave, DO.PositionExecMaster)
		result = m.probe.Run(ctx, sess, edge.Master, edge.Slave, m.config.ProbeDeadline())
		sess.AddStep(DO.HealingStep{Description: prefix + " -> Trying to reset Slave", Outcome: DO.OutcomeOf(!result.Failed())})
		if !result.Failed() {
			return true
		}
	}

	m.healer.ResetToMasterPosition(ctx, sess, edge.Master, edge.Slave)
	result = m.probe.Run(ctx, sess, edge.Master, edge.Slave, m.config.ProbeDeadline())
	sess.AddStep(DO.HealingStep{Description: prefix + " -> Trying to reset Slave to Master", Outcome: DO.OutcomeOf(!result.Failed())})
	return !result.Failed()
}

func (m *Monitor) report(ctx context.Context, sess *DO.Session, findings []Finding) {
	m.flush(ctx, sess)
	decision := m.throttler.ReportErrors(ctx, sess, messages(findings))
	m.metrics.Report(string(decision.Type), decision.Send)
	if !decision.Send {
		log.Debug("Errors report not sent: ", decision.Reason)
	}
}

func (m *Monitor) flush(ctx context.Context, sess *DO.Session) {
	if failed := sess.Flush(ctx); failed > 0 {
		log.Warning(fmt.Sprintf("%d event(s) could not be written to the log store", failed))
	}
}
