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


package DataObjects

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	store "replication_monitor/internal/Store"
)

/*
Session is everything that lives for one monitoring cycle:
the error and debug events raised so far, the read cache and the healing audit trail.
It is created by the caller and passed to every operation, nothing here is global.
*/
type Session struct {
	mu           sync.Mutex
	sink         EventSink
	lazy         bool
	recordDebugs bool
	events       []store.Event
	pending      []store.Event
	steps        []HealingStep
	cache        map[cacheKey]Result
	unreachable  map[string]error
	now          func() time.Time
}

// EventSink is the part of the store a session writes to
type EventSink interface {
	AppendEvent(ctx context.Context, event store.Event) (int64, error)
}

type cacheKey struct {
	server  string
	command string
}

type SessionOption func(*Session)

// WithLazyFlush defers persistence to Flush
func WithLazyFlush(lazy bool) SessionOption {
	return func(s *Session) { s.lazy = lazy }
}

// WithDebugRecording persists debug events too, errors are always persisted
func WithDebugRecording(record bool) SessionOption {
	return func(s *Session) { s.recordDebugs = record }
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession accepts a nil sink, events are then only kept in memory
func NewSession(sink EventSink, opts ...SessionOption) *Session {
	s := &Session{
		sink:        sink,
		cache:       make(map[cacheKey]Result),
		unreachable: make(map[string]error),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) AddError(ctx context.Context, text string) {
	log.Error(text)
	s.add(ctx, store.Event{IsError: true, Text: text})
}

func (s *Session) AddDebug(ctx context.Context, text string) {
	log.Debug(text)
	s.add(ctx, store.Event{Text: text})
}

func (s *Session) add(ctx context.Context, event store.Event) {
	s.mu.Lock()
	event.Timestamp = s.now()
	s.events = append(s.events, event)
	persist := event.IsError || s.recordDebugs
	if persist && s.lazy {
		s.pending = append(s.pending, event)
	}
	s.mu.Unlock()

	if persist && !s.lazy {
		s.persist(ctx, event)
	}
}

// persist failures are logged only, raising an event here would loop
func (s *Session) persist(ctx context.Context, event store.Event) bool {
	if s.sink == nil {
		return true
	}
	if _, err := s.sink.AppendEvent(ctx, event); err != nil {
		log.Warning("Cannot persist event |", event.Text, "|: ", err)
		return false
	}
	return true
}

// Flush writes what a lazy session kept aside, returns the number of failed writes
func (s *Session) Flush(ctx context.Context) int {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	failed := 0
	for _, event := range pending {
		if !s.persist(ctx, event) {
			failed++
		}
	}
	return failed
}

func (s *Session) Events() []store.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Event(nil), s.events...)
}

func (s *Session) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, event := range s.events {
		if event.IsError {
			out = append(out, event.Text)
		}
	}
	return out
}

func (s *Session) AddStep(step HealingStep) {
	log.Info("Healing: ", step.String())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *Session) Steps() []HealingStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HealingStep(nil), s.steps...)
}

func (s *Session) cached(server string, command string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.cache[cacheKey{server: server, command: command}]
	return result, ok
}

func (s *Session) remember(server string, command string, result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[cacheKey{server: server, command: command}] = result
}

// ResetCache is called before anything that must observe fresh state, like the post healing detection
func (s *Session) ResetCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[cacheKey]Result)
}

// MarkUnreachable keeps a server out of the rest of the cycle, it is not redialed until the next session
func (s *Session) MarkUnreachable(server string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.unreachable[server]; !ok {
		s.unreachable[server] = err
	}
}

// Unreachable returns the connection error that marked the server, nil while it is usable
func (s *Session) Unreachable(server string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreachable[server]
}
