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
	"errors"
	"time"

	store "replication_monitor/internal/Store"
)

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, subject string, html string, plain string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, subject)
	return nil
}

// brokenHistory cannot count emails
type brokenHistory struct {
	*store.MemoryStore
}

func (brokenHistory) CountEmailsSince(ctx context.Context, since time.Time, messageType store.MessageType) (int, error) {
	return 0, errors.New("log server unreachable")
}

var throttleStart = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)

func testThrottlerFactory(history store.Store, mailer Mailer, clock *time.Time) *Throttler {
	throttler := NewThrottler(history, mailer, 60*time.Minute, 3)
	throttler.now = func() time.Time { return *clock }
	return throttler
}

type dedupRule struct {
	name     string
	offset   time.Duration
	findings []string
	wantSend bool
}

// each rule runs after the previous ones, against the same history
func rulesTestErrorDedup() []dedupRule {
	lag := []string{"Slave <b>demeter</b> exceeds by 5 sec(s) threshold of 10 to be behind master."}
	other := []string{"Cannot get Slave <b>demeter</b> status."}
	return []dedupRule{
		{name: "first report", offset: 0, findings: lag, wantSend: true},
		{name: "inside the window", offset: 30 * time.Minute, findings: other, wantSend: false},
		{name: "same content inside twice the window", offset: 61 * time.Minute, findings: lag, wantSend: false},
		{name: "new content after the window", offset: 62 * time.Minute, findings: other, wantSend: true},
		{name: "same content after twice the window", offset: 183 * time.Minute, findings: lag, wantSend: true},
	}
}
