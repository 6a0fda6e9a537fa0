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
	"path/filepath"
	"testing"
	"time"
)

type fileLockRule struct {
	name     string
	pidTest  int
	timeTest int64
	evaluate bool
	want     bool
}

var lockTestNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

// pid 4242 is ours, 5151 is alive, anything else is gone
func testRunLockFactory(dir string) *RunLock {
	return &RunLock{
		pid:          4242,
		fullPath:     filepath.Join(dir, "replication_monitor_test.lock"),
		timeCreation: lockTestNow.UnixNano(),
		timeout:      60,
		alive:        func(pid int) bool { return pid == 4242 || pid == 5151 },
		now:          func() time.Time { return lockTestNow },
	}
}

func rulesTestEvaluateForRemoval() []fileLockRule {
	return []fileLockRule{
		{name: "nothing to evaluate", evaluate: false, pidTest: 5151, timeTest: lockTestNow.UnixNano(), want: false},
		{name: "own pid", evaluate: true, pidTest: 4242, timeTest: lockTestNow.UnixNano(), want: true},
		{name: "process gone", evaluate: true, pidTest: 9999, timeTest: lockTestNow.UnixNano(), want: true},
		{name: "invalid pid", evaluate: true, pidTest: 0, timeTest: lockTestNow.UnixNano(), want: true},
		{name: "alive and recent", evaluate: true, pidTest: 5151, timeTest: lockTestNow.Add(-30 * time.Second).UnixNano(), want: false},
		{name: "alive but expired", evaluate: true, pidTest: 5151, timeTest: lockTestNow.Add(-2 * time.Minute).UnixNano(), want: true},
	}
}

type acquireRule struct {
	name      string
	holderPid int
	holderAge time.Duration
	acquired  bool // the holder went through Acquire instead of leaving a file behind
	want      bool
}

func writeLockFile(t *testing.T, holder *RunLock) {
	t.Helper()
	content := fmt.Sprintf("PID:%d\nTime:%d\n", holder.pid, holder.timeCreation)
	if err := os.WriteFile(holder.fullPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func rulesTestAcquire() []acquireRule {
	return []acquireRule{
		{name: "no holder", want: true},
		{name: "daemon running for hours", holderPid: 5151, holderAge: 6 * time.Hour, acquired: true, want: false},
		{name: "live holder", holderPid: 5151, holderAge: 10 * time.Second, want: false},
		{name: "left by a live process long ago", holderPid: 5151, holderAge: 2 * time.Minute, want: true},
		{name: "left by a gone process", holderPid: 9999, holderAge: 10 * time.Second, want: true},
	}
}
