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
	"bytes"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// InitLog sets formatter, target and level for the whole process
func InitLog(config Configuration) bool {
	formatter := LogFormat{TimestampFormat: "2006-01-02 15:04:05", Colors: true}

	switch strings.ToLower(config.Global.LogTarget) {
	case "file":
		if config.Global.LogFile == "" {
			log.Error("Log target is file but logFile is empty")
			return false
		}
		file, err := os.OpenFile(config.Global.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
		if err != nil {
			log.Error("Error logging to file ", err.Error())
			return false
		}
		formatter.Colors = false
		log.SetOutput(file)
	default:
		log.SetOutput(os.Stdout)
	}
	log.SetFormatter(&formatter)
	log.SetLevel(ParseLevel(config.Global.LogLevel))

	if log.GetLevel() == log.DebugLevel {
		log.Info("Go version: ", runtime.Version())
		log.Debug("Log initialized")
	}
	return true
}

// ParseLevel falls back to error, the quiet choice for cron runs
func ParseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warning", "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.ErrorLevel
	}
}

type LogFormat struct {
	TimestampFormat string
	Colors          bool
}

func (f *LogFormat) Format(entry *log.Entry) ([]byte, error) {
	var b *bytes.Buffer

	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	if f.Colors {
		b.WriteString("\x1b[" + strconv.Itoa(getColorByLevel(entry.Level)) + "m")
	}
	b.WriteByte('[')
	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteByte(']')
	if f.Colors {
		b.WriteString("\x1b[0m")
	}
	b.WriteByte(':')
	b.WriteString(entry.Time.Format(f.TimestampFormat))

	if entry.Message != "" {
		b.WriteString(" - ")
		b.WriteString(entry.Message)
	}

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for key := range entry.Data {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		b.WriteString(" || ")
		for i, key := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(key)
			b.WriteString("={")
			fmt.Fprint(b, entry.Data[key])
			b.WriteByte('}')
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

const (
	colorRed    = 31
	colorYellow = 33
	colorBlue   = 36
	colorGray   = 34
	colorPanic  = 35
)

func getColorByLevel(level log.Level) int {
	switch level {
	case log.DebugLevel, log.TraceLevel:
		return colorGray
	case log.WarnLevel:
		return colorYellow
	case log.ErrorLevel:
		return colorRed
	case log.PanicLevel, log.FatalLevel:
		return colorPanic
	default:
		return colorBlue
	}
}
