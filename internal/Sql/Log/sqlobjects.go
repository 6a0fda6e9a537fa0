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


package Log

/*
Timeline and email history commands used by the MySQL store.
%s is always the quoted log schema.
*/

const (
	Ddl_create_schema = "CREATE DATABASE IF NOT EXISTS %s"

	Ddl_create_timeline = "CREATE TABLE IF NOT EXISTS %s.`timeline` (" +
		"`id` bigint unsigned NOT NULL AUTO_INCREMENT, " +
		"`timestamp` datetime NOT NULL, " +
		"`is_error` tinyint(1) NOT NULL DEFAULT 0, " +
		"`is_hidden` tinyint(1) NOT NULL DEFAULT 0, " +
		"`event` varchar(500) NOT NULL, " +
		"PRIMARY KEY (`id`), KEY `idx_timestamp` (`timestamp`)" +
		") ENGINE=InnoDB"

	Ddl_create_emails = "CREATE TABLE IF NOT EXISTS %s.`emails` (" +
		"`id` bigint unsigned NOT NULL AUTO_INCREMENT, " +
		"`timestamp` datetime NOT NULL, " +
		"`status` varchar(255) NOT NULL, " +
		"`message_type` varchar(20) NOT NULL, " +
		"`subject` varchar(255) NOT NULL, " +
		"`message` longtext NOT NULL, " +
		"`email_hash` varchar(32) NOT NULL, " +
		"PRIMARY KEY (`id`), KEY `idx_type_timestamp` (`message_type`, `timestamp`), KEY `idx_hash` (`email_hash`)" +
		") ENGINE=InnoDB"

	Dml_insert_event = "INSERT INTO %s.`timeline` (`timestamp`, `is_error`, `is_hidden`, `event`) VALUES (?, ?, 0, ?)"

	Dml_select_events_since = "SELECT `id`, `timestamp`, `is_error`, `is_hidden`, `event` FROM %s.`timeline` " +
		"WHERE `timestamp` >= ? ORDER BY `timestamp` DESC, `id` DESC"

	Dml_hide_event = "UPDATE %s.`timeline` SET `is_hidden` = 1 WHERE `id` = ?"

	Dml_count_emails_since = "SELECT COUNT(1) FROM %s.`emails` WHERE `timestamp` >= ? AND `message_type` = ?"

	Dml_count_emails_matching = "SELECT COUNT(1) FROM %s.`emails` WHERE `email_hash` = ? AND `timestamp` >= ? AND `message_type` = ?"

	Dml_insert_email = "INSERT INTO %s.`emails` (`timestamp`, `status`, `message_type`, `subject`, `message`, `email_hash`) " +
		"VALUES (?, ?, ?, ?, ?, ?)"
)
