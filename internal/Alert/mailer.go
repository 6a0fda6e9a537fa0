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
	"crypto/tls"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
	global "replication_monitor/internal/Global"
)

type Mailer interface {
	Send(ctx context.Context, subject string, html string, plain string) error
}

// SMTPMailer delivers through the configured relay, one connection per message
type SMTPMailer struct {
	conf   global.MailerConf
	dialer *gomail.Dialer
}

func NewSMTPMailer(conf global.MailerConf) *SMTPMailer {
	username, password := conf.Username, conf.Password
	if !conf.SmtpAuth {
		username, password = "", ""
	}
	dialer := gomail.NewDialer(conf.Host, conf.Port, username, password)
	switch conf.SmtpSecure {
	case "ssl":
		dialer.SSL = true
	case "tls":
		// STARTTLS is negotiated when the server offers it
		dialer.SSL = false
		dialer.TLSConfig = &tls.Config{ServerName: conf.Host}
	default:
		dialer.SSL = false
	}
	return &SMTPMailer{conf: conf, dialer: dialer}
}

func (m *SMTPMailer) message(subject string, html string, plain string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.conf.FromAddress, m.conf.FromName)
	msg.SetAddressHeader("To", m.conf.ToAddress, m.conf.ToName)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", plain)
	if m.conf.IsHtml {
		msg.AddAlternative("text/html", html)
	}
	return msg
}

// Send gives up waiting when ctx ends, the dial itself cannot be interrupted
func (m *SMTPMailer) Send(ctx context.Context, subject string, html string, plain string) error {
	msg := m.message(subject, html, plain)
	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp %s:%d: %w", m.conf.Host, m.conf.Port, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogMailer writes reports to the log instead of sending them, used when no relay is configured
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, subject string, html string, plain string) error {
	log.WithFields(log.Fields{"subject": subject}).Info("Report not mailed, no relay configured:\n", plain)
	return nil
}

// NewMailer picks the relay when a host is configured
func NewMailer(conf global.MailerConf) Mailer {
	if conf.Host == "" {
		return LogMailer{}
	}
	return NewSMTPMailer(conf)
}
