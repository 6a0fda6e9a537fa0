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


package Replication

/*
All the replication control and probe commands.
No SQL should be hardcoded in any other class.
Values are always passed as parameters (?), identifiers are validated and quoted by the caller
and substituted in the %s placeholders.
*/

const (
	// status
	Dml_show_slave_status  = "SHOW SLAVE STATUS"
	Dml_show_master_status = "SHOW MASTER STATUS"
	Dml_get_gtid_mode      = "SELECT variable_value FROM performance_schema.global_variables WHERE variable_name = 'gtid_mode'"

	// slave control
	Cmd_start_slave          = "START SLAVE"
	Cmd_start_slave_io       = "START SLAVE IO_THREAD"
	Cmd_start_slave_sql      = "START SLAVE SQL_THREAD"
	Cmd_stop_slave           = "STOP SLAVE"
	Cmd_reset_slave          = "RESET SLAVE"
	Cmd_skip_one_event       = "SET GLOBAL SQL_SLAVE_SKIP_COUNTER = 1"
	Cmd_change_master_to_pos = "CHANGE MASTER TO MASTER_LOG_FILE = ?, MASTER_LOG_POS = ?"

	// master consistent read
	Cmd_flush_privileges    = "FLUSH PRIVILEGES"
	Cmd_flush_tables_locked = "FLUSH TABLES WITH READ LOCK"
	Cmd_unlock_tables       = "UNLOCK TABLES"

	// schema selection, %s is the quoted schema
	Cmd_use_schema = "USE %s"

	// probe table, %s is the quoted schema
	Ddl_create_test_schema = "CREATE DATABASE IF NOT EXISTS %s"
	Ddl_create_test_table  = "CREATE TABLE IF NOT EXISTS %s.`test` (" +
		"`master_slave` varchar(50) NOT NULL, " +
		"`created` datetime NOT NULL, " +
		"`data` varchar(32) NOT NULL, " +
		"KEY `idx_master_slave` (`master_slave`)" +
		") ENGINE=InnoDB"

	Dml_probe_insert       = "INSERT INTO %s.`test` (`master_slave`, `created`, `data`) VALUES (?, ?, ?)"
	Dml_probe_select       = "SELECT `master_slave`, `created`, `data` FROM %s.`test` WHERE `master_slave` = ? AND `created` = ? AND `data` = ?"
	Dml_probe_select_slave = "SELECT `master_slave`, `created`, `data` FROM %s.`test` WHERE `master_slave` = ? AND `data` = ?"
	Dml_probe_delete       = "DELETE FROM %s.`test` WHERE `master_slave` = ?"
)
