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
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLock_EvaluateForRemoval(t *testing.T) {
	for _, tt := range rulesTestEvaluateForRemoval() {
		t.Run(tt.name, func(t *testing.T) {
			lock := testRunLockFactory(t.TempDir())
			if got := lock.EvaluateForRemoval(tt.evaluate, tt.pidTest, tt.timeTest); got != tt.want {
				t.Errorf(" %s EvaluateForRemoval() = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestRunLock_AcquireRelease(t *testing.T) {
	lock := testRunLockFactory(t.TempDir())

	require.True(t, lock.Acquire())
	content, err := os.ReadFile(lock.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "PID:4242\nTime:"))

	other := testRunLockFactory("")
	other.fullPath = lock.fullPath
	other.pid = 5151
	assert.False(t, other.Acquire(), "a live lock younger than the timeout must be kept")

	assert.True(t, lock.Release())
	_, err = os.Stat(lock.Path())
	assert.True(t, os.IsNotExist(err))
	assert.False(t, lock.Release(), "second release has nothing to remove")

	assert.True(t, other.Acquire())
	assert.True(t, other.Release())
}

func TestNewRunLockName(t *testing.T) {
	var config Configuration
	config.fillDefaults()
	config.Global.LockFilePath = "/var/run"

	lock := NewRunLock(config, "config/fleet_a.toml")
	assert.Equal(t, "/var/run/replication_monitor_fleet_a.lock", lock.Path())
	assert.Equal(t, int64(300), lock.timeout)
}

func TestRunLock_AcquireAgainstHolder(t *testing.T) {
	for _, tt := range rulesTestAcquire() {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.holderPid != 0 {
				holder := testRunLockFactory(dir)
				holder.pid = tt.holderPid
				holder.timeCreation = lockTestNow.Add(-tt.holderAge).UnixNano()
				if tt.acquired {
					holder.now = func() time.Time { return lockTestNow.Add(-tt.holderAge) }
					require.True(t, holder.Acquire())
					holder.now = func() time.Time { return lockTestNow }
					require.True(t, holder.Release())
					require.True(t, holder.Acquire(), "a later cycle of the same holder")
				} else {
					writeLockFile(t, holder)
				}
			}
			contender := testRunLockFactory(dir)
			if got := contender.Acquire(); got != tt.want {
				t.Errorf(" %s Acquire() = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestRunLock_ReleaseKeepsForeignLock(t *testing.T) {
	lock := testRunLockFactory(t.TempDir())
	require.True(t, lock.Acquire())

	successor := testRunLockFactory("")
	successor.fullPath = lock.fullPath
	successor.pid = 5151
	successor.timeCreation = lockTestNow.UnixNano()
	writeLockFile(t, successor)

	assert.False(t, lock.Release())
	content, err := os.ReadFile(lock.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "PID:5151\n"))
}
