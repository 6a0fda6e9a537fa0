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
	"time"
)

/*
Store is the narrow append/query surface the monitor needs from its history:
a timeline of events and a record of every email it tried to send.
Nothing in the monitor depends on a particular engine.
*/

type MessageType string

const (
	MessageErrors  MessageType = "errors"
	MessageHealing MessageType = "healing"
)

// TimestampLayout is how timestamps are written and read back, second precision
const TimestampLayout = "2006-01-02 15:04:05"

// maxEventLength matches the timeline event column
const maxEventLength = 500

type Event struct {
	Id        int64
	Timestamp time.Time
	IsError   bool
	IsHidden  bool
	Text      string
}

type EmailRecord struct {
	Timestamp time.Time
	Status    string
	Type      MessageType
	Subject   string
	Message   string
	Hash      string
}

type Store interface {
	// Init creates what is missing, it never drops anything
	Init(ctx context.Context) error
	AppendEvent(ctx context.Context, event Event) (int64, error)
	// EventsSince returns the events newer than since, newest first
	EventsSince(ctx context.Context, since time.Time) ([]Event, error)
	HideEvent(ctx context.Context, id int64) error
	CountEmailsSince(ctx context.Context, since time.Time, messageType MessageType) (int, error)
	CountEmailsMatching(ctx context.Context, hash string, messageType MessageType, since time.Time) (int, error)
	AppendEmail(ctx context.Context, record EmailRecord) error
}

func truncateEvent(text string) string {
	runes := []rune(text)
	if len(runes) <= maxEventLength {
		return text
	}
	return string(runes[:maxEventLength])
}
