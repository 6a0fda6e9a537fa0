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


package Store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps history for the life of the process only
type MemoryStore struct {
	sync.Mutex
	events []Event
	emails []EmailRecord
	nextId int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Init(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event Event) (int64, error) {
	m.Lock()
	defer m.Unlock()
	m.nextId++
	event.Id = m.nextId
	event.Text = truncateEvent(event.Text)
	event.Timestamp = event.Timestamp.Truncate(time.Second)
	m.events = append(m.events, event)
	return event.Id, nil
}

func (m *MemoryStore) EventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	m.Lock()
	defer m.Unlock()
	var out []Event
	for _, event := range m.events {
		if !event.Timestamp.Before(since) {
			out = append(out, event)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Id > out[j].Id
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (m *MemoryStore) HideEvent(ctx context.Context, id int64) error {
	m.Lock()
	defer m.Unlock()
	for i := range m.events {
		if m.events[i].Id == id {
			m.events[i].IsHidden = true
			return nil
		}
	}
	return fmt.Errorf("timeline event %d not found", id)
}

func (m *MemoryStore) CountEmailsSince(ctx context.Context, since time.Time, messageType MessageType) (int, error) {
	return m.countEmails(func(r EmailRecord) bool {
		return r.Type == messageType && !r.Timestamp.Before(since)
	}), nil
}

func (m *MemoryStore) CountEmailsMatching(ctx context.Context, hash string, messageType MessageType, since time.Time) (int, error) {
	return m.countEmails(func(r EmailRecord) bool {
		return r.Hash == hash && r.Type == messageType && !r.Timestamp.Before(since)
	}), nil
}

func (m *MemoryStore) countEmails(match func(EmailRecord) bool) int {
	m.Lock()
	defer m.Unlock()
	count := 0
	for _, record := range m.emails {
		if match(record) {
			count++
		}
	}
	return count
}

func (m *MemoryStore) AppendEmail(ctx context.Context, record EmailRecord) error {
	m.Lock()
	defer m.Unlock()
	record.Timestamp = record.Timestamp.Truncate(time.Second)
	m.emails = append(m.emails, record)
	return nil
}

// Emails returns a copy of the history, oldest first
func (m *MemoryStore) Emails() []EmailRecord {
	m.Lock()
	defer m.Unlock()
	return append([]EmailRecord(nil), m.emails...)
}
