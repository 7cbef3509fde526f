package datastore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/sigurn/crc16"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// 支持的驱动名，与 database/sql 注册名一致
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var templateTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// TemplateCRC 指纹模板内容的 CRC16/MODBUS，用于判断模板是否变化
func TemplateCRC(tpl []byte) uint16 {
	return crc16.Checksum(tpl, templateTable)
}

type DataStoreSql struct {
	db     *sql.DB
	driver string
	log    logrus.FieldLogger
}

// 表结构；{{serial}} 与 {{blob}} 按驱动替换
const schema = `
CREATE TABLE IF NOT EXISTS terminals (
   name             TEXT PRIMARY KEY,
   host             TEXT,
   port             INTEGER,
   sn               TEXT,
   firmware_version TEXT,
   platform         TEXT,
   mac              TEXT,
   last_sync_at     BIGINT DEFAULT 0,
   created_at       BIGINT
);

CREATE TABLE IF NOT EXISTS terminal_users (
   terminal  TEXT,
   uid       INTEGER,
   user_id   TEXT,
   name      TEXT,
   privilege INTEGER,
   password  TEXT,
   group_id  TEXT,
   card      BIGINT,
   PRIMARY KEY (terminal, uid)
);

CREATE TABLE IF NOT EXISTS templates (
   terminal     TEXT,
   uid          INTEGER,
   finger_index INTEGER,
   valid        INTEGER,
   template     {{blob}},
   crc          INTEGER,
   updated_at   BIGINT,
   PRIMARY KEY (terminal, uid, finger_index)
);

CREATE TABLE IF NOT EXISTS attendance (
   terminal TEXT,
   uid      INTEGER,
   user_id  TEXT,
   ts       BIGINT,
   status   INTEGER,
   punch    INTEGER,
   UNIQUE (terminal, user_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_attendance_query ON attendance (terminal, ts);

CREATE TABLE IF NOT EXISTS sync_runs (
   id          TEXT PRIMARY KEY,
   terminal    TEXT,
   started_at  BIGINT,
   finished_at BIGINT DEFAULT 0,
   users       INTEGER DEFAULT 0,
   templates   INTEGER DEFAULT 0,
   attendance  INTEGER DEFAULT 0,
   error       TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_terminal ON sync_runs (terminal, started_at);

CREATE TABLE IF NOT EXISTS logs (
   id         {{serial}},
   terminal   TEXT,
   level      TEXT,
   message    TEXT,
   created_at BIGINT
);
CREATE INDEX IF NOT EXISTS idx_logs_terminal ON logs (terminal);
`

func schemaFor(driver string) string {
	r := strings.NewReplacer("{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{blob}}", "BLOB")
	if driver == DriverPostgres {
		r = strings.NewReplacer("{{serial}}", "BIGSERIAL PRIMARY KEY", "{{blob}}", "BYTEA")
	}
	return r.Replace(schema)
}

// NewDataStoreSql 打开数据库并初始化表结构
// driver 为 "sqlite" 时 dsn 是文件路径，为 "pgx" 时是 PostgreSQL 连接串
func NewDataStoreSql(driver, dsn string, log logrus.FieldLogger) (inter.DataStore, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
	case DriverPostgres, "postgres":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("datastore: 不支持的驱动 %q", driver)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// sqlite 只允许单写者
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schemaFor(driver)); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("driver", driver).Info("DataStore: 数据库已就绪")
	return &DataStoreSql{db: db, driver: driver, log: log}, nil
}

// rebind 把 ? 占位符改写为 PostgreSQL 的 $n
func (s *DataStoreSql) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *DataStoreSql) exec(query string, args ...any) (sql.Result, error) {
	return s.db.Exec(s.rebind(query), args...)
}

func (s *DataStoreSql) query(query string, args ...any) (*sql.Rows, error) {
	return s.db.Query(s.rebind(query), args...)
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

// [终端管理实现]

// SaveTerminal 终端回报的字段为空时保留已有值
func (s *DataStoreSql) SaveTerminal(rec inter.TerminalRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.exec(`
		INSERT INTO terminals (name, host, port, sn, firmware_version, platform, mac, last_sync_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			sn = COALESCE(NULLIF(excluded.sn, ''), terminals.sn),
			firmware_version = COALESCE(NULLIF(excluded.firmware_version, ''), terminals.firmware_version),
			platform = COALESCE(NULLIF(excluded.platform, ''), terminals.platform),
			mac = COALESCE(NULLIF(excluded.mac, ''), terminals.mac),
			last_sync_at = CASE WHEN excluded.last_sync_at > 0 THEN excluded.last_sync_at ELSE terminals.last_sync_at END`,
		rec.Name, rec.Host, rec.Port, rec.SerialNumber, rec.FirmwareVersion, rec.Platform, rec.MAC,
		unix(rec.LastSyncAt), unix(created),
	)
	return err
}

func scanTerminal(scan func(dest ...any) error) (inter.TerminalRecord, error) {
	var r inter.TerminalRecord
	var lastSync, created int64
	err := scan(&r.Name, &r.Host, &r.Port, &r.SerialNumber, &r.FirmwareVersion, &r.Platform, &r.MAC, &lastSync, &created)
	r.LastSyncAt = fromUnix(lastSync)
	r.CreatedAt = fromUnix(created)
	return r, err
}

const terminalColumns = "name, host, port, sn, firmware_version, platform, mac, last_sync_at, created_at"

func (s *DataStoreSql) LoadTerminal(name string) (inter.TerminalRecord, error) {
	row := s.db.QueryRow(s.rebind("SELECT "+terminalColumns+" FROM terminals WHERE name = ?"), name)
	r, err := scanTerminal(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return r, inter.ErrTerminalNotFound
	}
	return r, err
}

func (s *DataStoreSql) ListTerminals() ([]inter.TerminalRecord, error) {
	rows, err := s.query("SELECT " + terminalColumns + " FROM terminals ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []inter.TerminalRecord
	for rows.Next() {
		r, err := scanTerminal(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// [用户与指纹实现]

// ReplaceUsers 在一个事务中整体替换
func (s *DataStoreSql) ReplaceUsers(terminal string, users []inter.User) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.rebind("DELETE FROM terminal_users WHERE terminal = ?"), terminal); err != nil {
		return err
	}
	stmt, err := tx.Prepare(s.rebind(`
		INSERT INTO terminal_users (terminal, uid, user_id, name, privilege, password, group_id, card)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.Exec(terminal, int64(u.UID), u.UserID, u.Name, int64(u.Privilege), u.Password, u.GroupID, int64(u.Card)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *DataStoreSql) ListUsers(terminal string) ([]inter.User, error) {
	rows, err := s.query(`
		SELECT uid, user_id, name, privilege, password, group_id, card
		FROM terminal_users WHERE terminal = ? ORDER BY uid`, terminal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []inter.User
	for rows.Next() {
		var u inter.User
		var card int64
		if err := rows.Scan(&u.UID, &u.UserID, &u.Name, &u.Privilege, &u.Password, &u.GroupID, &card); err != nil {
			return nil, err
		}
		u.Card = uint32(card)
		users = append(users, u)
	}
	return users, rows.Err()
}

// storedTemplate 库中已有模板的摘要
type storedTemplate struct {
	crc   uint16
	valid int8
}

// SaveTemplates 以终端为准同步模板：只写入 CRC 或有效标志变化的条目，终端上已不存在的条目被删除
// 返回写入与删除的条目数
func (s *DataStoreSql) SaveTemplates(terminal string, fingers []inter.Finger) (int, error) {
	known := make(map[[2]int]storedTemplate)
	rows, err := s.query("SELECT uid, finger_index, valid, crc FROM templates WHERE terminal = ?", terminal)
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var uid, idx int
		var valid, crc int64
		if err := rows.Scan(&uid, &idx, &valid, &crc); err != nil {
			rows.Close()
			return 0, err
		}
		known[[2]int{uid, idx}] = storedTemplate{crc: uint16(crc), valid: int8(valid)}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(s.rebind(`
		INSERT INTO templates (terminal, uid, finger_index, valid, template, crc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (terminal, uid, finger_index) DO UPDATE SET
			valid = excluded.valid,
			template = excluded.template,
			crc = excluded.crc,
			updated_at = excluded.updated_at`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	changed := 0
	for _, f := range fingers {
		key := [2]int{int(f.UID), int(f.FingerIndex)}
		crc := TemplateCRC(f.Template)
		old, ok := known[key]
		delete(known, key)
		if ok && old.crc == crc && old.valid == f.Valid {
			continue
		}
		if _, err := stmt.Exec(terminal, int64(f.UID), int64(f.FingerIndex), int64(f.Valid), f.Template, int64(crc), now); err != nil {
			return 0, err
		}
		changed++
	}

	// 剩下的是终端上已删除的模板
	for key := range known {
		if _, err := tx.Exec(s.rebind("DELETE FROM templates WHERE terminal = ? AND uid = ? AND finger_index = ?"),
			terminal, int64(key[0]), int64(key[1])); err != nil {
			return 0, err
		}
		changed++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *DataStoreSql) ListTemplates(terminal string) ([]inter.Finger, error) {
	rows, err := s.query(`
		SELECT uid, finger_index, valid, template
		FROM templates WHERE terminal = ? ORDER BY uid, finger_index`, terminal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fingers []inter.Finger
	for rows.Next() {
		var f inter.Finger
		if err := rows.Scan(&f.UID, &f.FingerIndex, &f.Valid, &f.Template); err != nil {
			return nil, err
		}
		fingers = append(fingers, f)
	}
	return fingers, rows.Err()
}

// [考勤实现]

// AppendAttendance 按 (终端, 工号, 时间) 去重
func (s *DataStoreSql) AppendAttendance(terminal string, records []inter.Attendance) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(s.rebind(`
		INSERT INTO attendance (terminal, uid, user_id, ts, status, punch)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (terminal, user_id, ts) DO NOTHING`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, a := range records {
		res, err := stmt.Exec(terminal, int64(a.UID), a.UserID, a.Timestamp.Unix(), int64(a.Status), int64(a.Punch))
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"terminal": terminal, "received": len(records), "inserted": inserted}).Debug("DataStore: 考勤已写入")
	return inserted, nil
}

func (s *DataStoreSql) QueryAttendance(terminal string, start, end time.Time) ([]inter.Attendance, error) {
	rows, err := s.query(`
		SELECT uid, user_id, ts, status, punch
		FROM attendance WHERE terminal = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC, uid ASC`, terminal, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []inter.Attendance
	for rows.Next() {
		var a inter.Attendance
		var ts int64
		if err := rows.Scan(&a.UID, &a.UserID, &ts, &a.Status, &a.Punch); err != nil {
			return nil, err
		}
		a.Timestamp = time.Unix(ts, 0)
		records = append(records, a)
	}
	return records, rows.Err()
}

// [同步任务与日志实现]

func (s *DataStoreSql) BeginSyncRun(terminal string) (inter.SyncRun, error) {
	run := inter.SyncRun{
		ID:        uuid.NewString(),
		Terminal:  terminal,
		StartedAt: time.Now(),
	}
	_, err := s.exec("INSERT INTO sync_runs (id, terminal, started_at) VALUES (?, ?, ?)",
		run.ID, run.Terminal, run.StartedAt.Unix())
	return run, err
}

func (s *DataStoreSql) FinishSyncRun(run inter.SyncRun) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	res, err := s.exec(`
		UPDATE sync_runs SET finished_at = ?, users = ?, templates = ?, attendance = ?, error = ?
		WHERE id = ?`,
		run.FinishedAt.Unix(), run.Users, run.Templates, run.Attendance, run.Error, run.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("datastore: 同步任务 %s 不存在", run.ID)
	}
	return nil
}

// ListSyncRuns 最近的同步任务在前
func (s *DataStoreSql) ListSyncRuns(terminal string, limit int) ([]inter.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(`
		SELECT id, terminal, started_at, finished_at, users, templates, attendance, error
		FROM sync_runs WHERE terminal = ? ORDER BY started_at DESC, id LIMIT ?`, terminal, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []inter.SyncRun
	for rows.Next() {
		var r inter.SyncRun
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Terminal, &started, &finished, &r.Users, &r.Templates, &r.Attendance, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = fromUnix(started)
		r.FinishedAt = fromUnix(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// WriteLog 记录终端运行日志
func (s *DataStoreSql) WriteLog(terminal string, level string, message string) error {
	_, err := s.exec("INSERT INTO logs (terminal, level, message, created_at) VALUES (?, ?, ?, ?)",
		terminal, level, message, time.Now().Unix())
	return err
}

func (s *DataStoreSql) Close() error {
	return s.db.Close()
}
