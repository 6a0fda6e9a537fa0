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
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	Separator = string(os.PathSeparator)
)

func CheckIfPathExists(path string) bool {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return true
	}
	return false
}

// ToInt64 returns -1 on a non numeric value, 0 on empty
func ToInt64(myString string) int64 {
	if len(myString) > 0 {
		i, err := strconv.ParseInt(myString, 10, 64)
		if err != nil {
			log.Debug("Conversion error for |", myString, "|: ", err)
			return -1
		}
		return i
	}
	return 0
}

/* =====================
STATS
*/

// PerfObject is one timed phase
type PerfObject struct {
	Name     string
	Time     [2]int64
	LogLevel log.Level
}

func (p PerfObject) Elapsed() time.Duration {
	if p.Time[1] < p.Time[0] {
		return 0
	}
	return time.Duration(p.Time[1] - p.Time[0])
}

// PerfTracker keeps phases in the order they were first started.
// A nil or disabled tracker is a no-op so callers do not need to check
type PerfTracker struct {
	sync.Mutex
	enabled bool
	store   map[string]PerfObject
	keys    []string
	now     func() time.Time
}

func NewPerfTracker(enabled bool) *PerfTracker {
	return &PerfTracker{
		enabled: enabled,
		store:   map[string]PerfObject{},
		now:     time.Now,
	}
}

func (p *PerfTracker) Start(key string, logLevel log.Level) {
	p.set(key, true, logLevel)
}

func (p *PerfTracker) Stop(key string) {
	p.set(key, false, log.InfoLevel)
}

func (p *PerfTracker) set(key string, start bool, logLevel log.Level) {
	if p == nil || !p.enabled {
		return
	}
	p.Lock()
	defer p.Unlock()

	perfObj, exists := p.store[key]
	if !exists {
		perfObj = PerfObject{Name: key, LogLevel: logLevel}
		p.keys = append(p.keys, key)
	}
	if start {
		perfObj.Time[0] = p.now().UnixNano()
	} else {
		perfObj.Time[1] = p.now().UnixNano()
	}
	p.store[key] = perfObj
}

// Phases returns a copy in insertion order
func (p *PerfTracker) Phases() []PerfObject {
	if p == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	phases := make([]PerfObject, 0, len(p.keys))
	for _, key := range p.keys {
		phases = append(phases, p.store[key])
	}
	return phases
}

func (p *PerfTracker) Report() {
	if p == nil || !p.enabled {
		return
	}
	formatter := message.NewPrinter(language.English)

	log.Info("======== Reporting execution times (nanosec/ms) by phase ============")
	for _, perfObj := range p.Phases() {
		if perfObj.LogLevel > log.GetLevel() {
			continue
		}
		elapsed := perfObj.Elapsed()
		log.Info("Phase: ", perfObj.Name, " = ", formatter.Sprintf("%d", elapsed.Nanoseconds()), " ns ",
			strconv.FormatInt(elapsed.Milliseconds(), 10), " ms")
	}
}

// QuoteIdentifier backtick-quotes a schema or table name after validating it.
// Identifiers cannot be sent as parameters so they are never taken as they come.
func QuoteIdentifier(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier |%s|", name)
	}
	return "`" + name + "`", nil
}
