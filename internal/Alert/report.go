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
	"crypto/md5"
	"fmt"
	"html"
	"regexp"
	"strings"

	store "replication_monitor/internal/Store"
)

const subjectSuffix = "in SRaM"

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Report is an email ready to be throttled then sent
type Report struct {
	Type    store.MessageType
	Subject string
	Body    string
	// Hash identifies the content, the log records are not part of it
	Hash string
}

func hashOf(subject string, body string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(subject+body)))
}

func BuildErrorReport(findings []string) Report {
	var body strings.Builder
	fmt.Fprintf(&body, "<h2>%d Error(s) were Detected:</h2>", len(findings))
	for _, finding := range findings {
		fmt.Fprintf(&body, "<p>%s</p>", finding)
	}
	subject := fmt.Sprintf("Detected %d error(s) %s", len(findings), subjectSuffix)
	return Report{
		Type:    store.MessageErrors,
		Subject: subject,
		Body:    body.String(),
		Hash:    hashOf(subject, body.String()),
	}
}

// BuildHealingReport lists the steps taken and what is still wrong after them
func BuildHealingReport(attempt int, maxAttempts int, windowMinutes int, steps []string, findings []string) Report {
	var body strings.Builder
	fmt.Fprintf(&body, "<h2>%d Step(s) were Taken to Heal:</h2>", len(steps))
	for _, step := range steps {
		fmt.Fprintf(&body, "<p>%s</p>", step)
	}
	fmt.Fprintf(&body, "<h2>Now %d Error(s) were Detected:</h2>", len(findings))
	for _, finding := range findings {
		fmt.Fprintf(&body, "<p>%s</p>", finding)
	}
	subject := fmt.Sprintf("Healing (%d/%d/%d) with %d step(s) > Now detected %d error(s) %s",
		attempt, maxAttempts, windowMinutes, len(steps), len(findings), subjectSuffix)
	return Report{
		Type:    store.MessageHealing,
		Subject: subject,
		Body:    body.String(),
		Hash:    hashOf(subject, body.String()),
	}
}

// WithLogs appends the recent timeline, events are expected newest first
func (r Report) WithLogs(events []store.Event, windowMinutes int) Report {
	var body strings.Builder
	body.WriteString(r.Body)
	fmt.Fprintf(&body, "<h3>%d Record(s) from Logs for Last %d Minute(s):</h3>", len(events), windowMinutes)
	for _, event := range events {
		color := "black"
		if event.IsError {
			color = "red"
		}
		fmt.Fprintf(&body, "<p style=\"color:%s\">%s > %s</p>", color, event.Timestamp.Format(store.TimestampLayout), event.Text)
	}
	r.Body = body.String()
	return r
}

// PlainText is the alternative body for clients not reading html
func PlainText(body string) string {
	text := strings.ReplaceAll(body, "</p>", "</p>\n")
	text = strings.ReplaceAll(text, "</h2>", "</h2>\n")
	text = strings.ReplaceAll(text, "</h3>", "</h3>\n")
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(text, "")))
}
