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


package Alert

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	DO "replication_monitor/internal/DataObjects"
	store "replication_monitor/internal/Store"
)

const StatusSent = "Sent"

// Decision is the throttler verdict on one report and, when sent, its delivery status
type Decision struct {
	Send    bool
	Type    store.MessageType
	Subject string
	Body    string
	Plain   string
	Hash    string
	Status  string
	// Reason says why nothing was sent
	Reason string
}

/*
Throttler decides whether a report goes out, using the email history as memory:
	errors:  nothing sent in the last window, and the same content not sent in twice the window
	healing: at most maxHealing attempts per window
When the history cannot be read nothing is sent and no healing is attempted.
*/
type Throttler struct {
	store      store.Store
	mailer     Mailer
	window     time.Duration
	maxHealing int
	now        func() time.Time
}

func NewThrottler(history store.Store, mailer Mailer, window time.Duration, maxHealing int) *Throttler {
	return &Throttler{
		store:      history,
		mailer:     mailer,
		window:     window,
		maxHealing: maxHealing,
		now:        time.Now,
	}
}

func (t *Throttler) windowMinutes() int {
	return int(t.window / time.Minute)
}

func (t *Throttler) historyFailure(ctx context.Context, sess *DO.Session, err error) {
	sess.AddError(ctx, fmt.Sprintf("Cannot read email history, alerting and healing suspended: %v", err))
}

func (t *Throttler) ReportErrors(ctx context.Context, sess *DO.Session, findings []string) Decision {
	report := BuildErrorReport(findings)
	decision := Decision{Type: report.Type, Subject: report.Subject, Hash: report.Hash}
	if len(findings) == 0 {
		decision.Reason = "no errors"
		return decision
	}

	now := t.now()
	sent, err := t.store.CountEmailsSince(ctx, now.Add(-t.window), store.MessageErrors)
	if err != nil {
		t.historyFailure(ctx, sess, err)
		decision.Reason = "email history unavailable"
		return decision
	}
	if sent > 0 {
		decision.Reason = fmt.Sprintf("%d errors report(s) already sent in the last %d minute(s)", sent, t.windowMinutes())
		log.Info("Errors report suppressed: ", decision.Reason)
		return decision
	}

	matching, err := t.store.CountEmailsMatching(ctx, report.Hash, store.MessageErrors, now.Add(-2*t.window))
	if err != nil {
		t.historyFailure(ctx, sess, err)
		decision.Reason = "email history unavailable"
		return decision
	}
	if matching > 0 {
		decision.Reason = fmt.Sprintf("same report already sent in the last %d minute(s)", 2*t.windowMinutes())
		log.Info("Errors report suppressed: ", decision.Reason)
		return decision
	}

	return t.deliver(ctx, sess, report)
}

// ShouldAttemptHealing returns the attempt number in the current window and whether it is allowed
func (t *Throttler) ShouldAttemptHealing(ctx context.Context, sess *DO.Session) (int, bool) {
	sent, err := t.store.CountEmailsSince(ctx, t.now().Add(-t.window), store.MessageHealing)
	if err != nil {
		t.historyFailure(ctx, sess, err)
		return 0, false
	}
	attempt := sent + 1
	if attempt > t.maxHealing {
		log.Warning(fmt.Sprintf("Healing attempt %d exceeds %d allowed in %d minute(s), skipped", attempt, t.maxHealing, t.windowMinutes()))
		return attempt, false
	}
	return attempt, true
}

func (t *Throttler) ReportHealing(ctx context.Context, sess *DO.Session, steps []string, findings []string, attempt int) Decision {
	report := BuildHealingReport(attempt, t.maxHealing, t.windowMinutes(), steps, findings)
	if attempt < 1 || attempt > t.maxHealing {
		return Decision{Type: report.Type, Subject: report.Subject, Hash: report.Hash,
			Reason: fmt.Sprintf("attempt %d is outside 1..%d", attempt, t.maxHealing)}
	}
	return t.deliver(ctx, sess, report)
}

// deliver sends and records the attempt whatever its outcome
func (t *Throttler) deliver(ctx context.Context, sess *DO.Session, report Report) Decision {
	now := t.now()
	events, err := t.store.EventsSince(ctx, now.Add(-t.window))
	if err != nil {
		log.Warning("Cannot read timeline for the report: ", err)
		events = nil
	}
	report = report.WithLogs(events, t.windowMinutes())

	decision := Decision{
		Send:    true,
		Type:    report.Type,
		Subject: report.Subject,
		Body:    report.Body,
		Plain:   PlainText(report.Body),
		Hash:    report.Hash,
	}
	if err := t.mailer.Send(ctx, decision.Subject, decision.Body, decision.Plain); err != nil {
		decision.Status = "Mailer Error: " + err.Error()
		sess.AddError(ctx, decision.Status)
	} else {
		decision.Status = StatusSent
		sess.AddDebug(ctx, decision.Status)
	}

	record := store.EmailRecord{
		Timestamp: now,
		Status:    decision.Status,
		Type:      decision.Type,
		Subject:   decision.Subject,
		Message:   decision.Body,
		Hash:      decision.Hash,
	}
	if err := t.store.AppendEmail(ctx, record); err != nil {
		sess.AddError(ctx, fmt.Sprintf("Cannot record %s email: %v", decision.Type, err))
	}
	return decision
}
