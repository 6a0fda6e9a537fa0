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
	"database/sql"
	"strconv"
)

const threadRunning = "Yes"

/*
SlaveStatus is SHOW SLAVE STATUS decoded once at the query boundary.
Present is false when the server is not configured as a slave (no row).
*/
type SlaveStatus struct {
	Present             bool
	IoRunning           string
	SqlRunning          string
	SecondsBehindMaster sql.NullInt64
	MasterLogFile       string
	ReadMasterLogPos    string
	RelayLogFile        string
	RelayLogPos         string
	RelayMasterLogFile  string
	ExecMasterLogPos    string
	LastIoError         string
	LastSqlError        string
	GtidMode            string
}

func SlaveStatusFromRows(rows []Row) SlaveStatus {
	if len(rows) == 0 {
		return SlaveStatus{}
	}
	row := rows[0]
	status := SlaveStatus{
		Present:            true,
		IoRunning:          row.Get("Slave_IO_Running"),
		SqlRunning:         row.Get("Slave_SQL_Running"),
		MasterLogFile:      row.Get("Master_Log_File"),
		ReadMasterLogPos:   row.Get("Read_Master_Log_Pos"),
		RelayLogFile:       row.Get("Relay_Log_File"),
		RelayLogPos:        row.Get("Relay_Log_Pos"),
		RelayMasterLogFile: row.Get("Relay_Master_Log_File"),
		ExecMasterLogPos:   row.Get("Exec_Master_Log_Pos"),
		LastIoError:        row.Get("Last_IO_Error"),
		LastSqlError:       row.Get("Last_SQL_Error"),
	}
	if !row.IsNull("Seconds_Behind_Master") {
		if lag, err := strconv.ParseInt(row.Get("Seconds_Behind_Master"), 10, 64); err == nil && lag >= 0 {
			status.SecondsBehindMaster = sql.NullInt64{Int64: lag, Valid: true}
		}
	}
	return status
}

func (s SlaveStatus) Healthy() bool {
	return s.IoRunning == threadRunning && s.SqlRunning == threadRunning
}

// PositionSource names the file/position pair a reset re-applies
type PositionSource struct {
	FileField string
	PosField  string
}

var (
	PositionExecMaster      = PositionSource{FileField: "Master_Log_File", PosField: "Exec_Master_Log_Pos"}
	PositionReadMaster      = PositionSource{FileField: "Master_Log_File", PosField: "Read_Master_Log_Pos"}
	PositionRelayLog        = PositionSource{FileField: "Master_Log_File", PosField: "Relay_Log_Pos"}
	PositionRelayMasterFile = PositionSource{FileField: "Relay_Master_Log_File", PosField: "Exec_Master_Log_Pos"}
)

func (p PositionSource) String() string {
	return p.FileField + "/" + p.PosField
}

func (s SlaveStatus) field(name string) string {
	switch name {
	case "Master_Log_File":
		return s.MasterLogFile
	case "Read_Master_Log_Pos":
		return s.ReadMasterLogPos
	case "Relay_Log_File":
		return s.RelayLogFile
	case "Relay_Log_Pos":
		return s.RelayLogPos
	case "Relay_Master_Log_File":
		return s.RelayMasterLogFile
	case "Exec_Master_Log_Pos":
		return s.ExecMasterLogPos
	}
	return ""
}

func (s SlaveStatus) Position(source PositionSource) (string, string) {
	return s.field(source.FileField), s.field(source.PosField)
}

// MasterStatus is read under a short global read lock so File and Position belong together
type MasterStatus struct {
	Present  bool
	File     string
	Position string
	GtidMode string
}

func MasterStatusFromRows(rows []Row) MasterStatus {
	if len(rows) == 0 {
		return MasterStatus{}
	}
	return MasterStatus{
		Present:  true,
		File:     rows[0].Get("File"),
		Position: rows[0].Get("Position"),
	}
}

func gtidModeFromRows(rows []Row) string {
	if len(rows) == 0 {
		return ""
	}
	for _, column := range []string{"variable_value", "VARIABLE_VALUE", "Value"} {
		if value, ok := rows[0][column]; ok {
			return value.String
		}
	}
	return ""
}
