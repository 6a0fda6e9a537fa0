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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

/*
RunLock prevents two monitor runs (cron overlapping a slow cycle, or a daemon and a manual run)
from healing the same slaves at the same time.
The file contains two lines:
	PID:<pid>
	Time:<unix nano of creation>
*/
type RunLock struct {
	pid          int
	fullPath     string
	timeCreation int64 // stamped by every Acquire
	timeout      int64 // seconds
	isActive     bool
	alive        func(pid int) bool
	now          func() time.Time
}

// NewRunLock names the lock after the config file so distinct fleets can run side by side
func NewRunLock(config Configuration, configFile string) *RunLock {
	name := strings.TrimSuffix(filepath.Base(configFile), filepath.Ext(configFile))
	if name == "" || name == "." {
		name = "default"
	}
	return &RunLock{
		pid:          os.Getpid(),
		fullPath:     filepath.Join(config.Global.LockFilePath, "replication_monitor_"+name+".lock"),
		timeout:      config.Global.LockFileTimeout,
		alive:        processAlive,
		now:          time.Now,
	}
}

func (rl *RunLock) Path() string {
	return rl.fullPath
}

// readLock returns pid and creation time of an existing lock file
func (rl *RunLock) readLock() (bool, int, int64) {
	var localPID int
	var localTime int64

	f, err := os.Open(rl.fullPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("Open lock file error: ", err)
		}
		return false, 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "PID:"):
			if localPID, err = strconv.Atoi(strings.TrimPrefix(line, "PID:")); err != nil {
				log.Warningf("Conversion error in PID %s", err.Error())
			}
		case strings.HasPrefix(line, "Time:"):
			if localTime, err = strconv.ParseInt(strings.TrimPrefix(line, "Time:"), 10, 64); err != nil {
				log.Warningf("Conversion error in Time %s", err.Error())
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error(err)
		return false, 0, 0
	}
	return true, localPID, localTime
}

// EvaluateForRemoval tells if an existing lock can be overwritten.
// A lock held by this same process, or by a gone process, or older than the timeout can be.
func (rl *RunLock) EvaluateForRemoval(evaluate bool, localPID int, localTime int64) bool {
	if !evaluate {
		return false
	}
	if rl.pid == localPID {
		return true
	}
	if localPID <= 0 || !rl.alive(localPID) {
		log.Warningf("Process %d is gone. We assume lock is expired.", localPID)
		return true
	}

	lockAge := (rl.now().UnixNano() - localTime) / int64(time.Second)
	if lockAge > rl.timeout {
		log.Warningf("Lock timeout is set to %d seconds, current time spent is %d seconds, so we can remove the lock safely", rl.timeout, lockAge)
		return true
	}
	log.Warningf("Lock timeout is set to %d seconds, current time spent is %d seconds, we cannot remove the lock safely", rl.timeout, lockAge)
	return false
}

/*
Acquire creates the lock exclusively, stamped with the time of this acquisition so a daemon
holding it cycle after cycle never looks expired.
An existing lock is taken over only when EvaluateForRemoval allows it, and the take over
goes through the same exclusive create so two contenders cannot both win.
*/
func (rl *RunLock) Acquire() bool {
	rl.timeCreation = rl.now().UnixNano()
	content := fmt.Sprintf("PID:%d\nTime:%d\n", rl.pid, rl.timeCreation)

	for attempt := 0; attempt < 2; attempt++ {
		err := rl.create(content)
		if err == nil {
			rl.isActive = true
			return true
		}
		if !os.IsExist(err) {
			log.Error(fmt.Sprintf("failed creating lock file: %s", err.Error()))
			return false
		}

		exists, pid, created := rl.readLock()
		if exists && !rl.EvaluateForRemoval(exists, pid, created) {
			log.Errorf("A lock file named: %s already exists. If this is a refuse of a dirty execution remove it manually", rl.fullPath)
			return false
		}
		if err := os.Remove(rl.fullPath); err != nil && !os.IsNotExist(err) {
			log.Error(fmt.Sprintf("failed removing expired lock file: %s", err.Error()))
			return false
		}
	}
	log.Errorf("Lock file %s was taken by another process", rl.fullPath)
	return false
}

func (rl *RunLock) create(content string) error {
	f, err := os.OpenFile(rl.fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(rl.fullPath)
		return err
	}
	return f.Close()
}

// Release removes the lock only while it is still the one this process wrote
func (rl *RunLock) Release() bool {
	if !rl.isActive {
		return false
	}
	rl.isActive = false
	exists, pid, created := rl.readLock()
	if !exists {
		return false
	}
	if pid != rl.pid || created != rl.timeCreation {
		log.Warningf("Lock file %s now belongs to process %d, it is left in place", rl.fullPath, pid)
		return false
	}
	if err := os.Remove(rl.fullPath); err != nil && !os.IsNotExist(err) {
		log.Error(fmt.Sprintf("failed removing lock file: %s", err.Error()))
		return false
	}
	return true
}

// signal 0 checks existence without touching the process
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
