package datastore

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore 在临时目录中创建真实的 sqlite 数据库
func setupTestStore(t *testing.T) *DataStoreSql {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test_zk.db")

	log := logrus.New()
	log.SetOutput(io.Discard)
	ds, err := NewDataStoreSql(DriverSQLite, dbPath, log)
	require.NoError(t, err)

	store, ok := ds.(*DataStoreSql)
	require.True(t, ok, "Returned interface is not *DataStoreSql")
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewDataStoreSql_UnknownDriver(t *testing.T) {
	_, err := NewDataStoreSql("mysql", "x", nil)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &DataStoreSql{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y BETWEEN $2 AND $3",
		pg.rebind("SELECT a FROM t WHERE x = ? AND y BETWEEN ? AND ?"))

	lite := &DataStoreSql{driver: DriverSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestSchemaFor(t *testing.T) {
	assert.Contains(t, schemaFor(DriverPostgres), "BIGSERIAL PRIMARY KEY")
	assert.Contains(t, schemaFor(DriverPostgres), "BYTEA")
	assert.Contains(t, schemaFor(DriverSQLite), "AUTOINCREMENT")
	assert.NotContains(t, schemaFor(DriverSQLite), "{{")
}

func TestTerminalLifecycle(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.LoadTerminal("gate")
	assert.ErrorIs(t, err, inter.ErrTerminalNotFound)

	require.NoError(t, store.SaveTerminal(inter.TerminalRecord{Name: "gate", Host: "192.168.1.201", Port: 4370}))
	rec, err := store.LoadTerminal("gate")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.201", rec.Host)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.True(t, rec.LastSyncAt.IsZero())

	synced := time.Unix(1700000000, 0)
	require.NoError(t, store.SaveTerminal(inter.TerminalRecord{
		Name: "gate", Host: "192.168.1.201", Port: 4370,
		SerialNumber: "DGD9190019050335134", FirmwareVersion: "Ver 6.60", MAC: "00:17:61:c8:ec:17",
		LastSyncAt: synced,
	}))

	// 重新注册不会抹掉终端回报的信息
	require.NoError(t, store.SaveTerminal(inter.TerminalRecord{Name: "gate", Host: "10.0.0.5", Port: 4370}))
	rec, err = store.LoadTerminal("gate")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", rec.Host)
	assert.Equal(t, "DGD9190019050335134", rec.SerialNumber)
	assert.Equal(t, "Ver 6.60", rec.FirmwareVersion)
	assert.True(t, synced.Equal(rec.LastSyncAt))

	require.NoError(t, store.SaveTerminal(inter.TerminalRecord{Name: "door", Host: "192.168.1.202", Port: 4370}))
	list, err := store.ListTerminals()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "door", list[0].Name)
}

func TestReplaceUsers(t *testing.T) {
	store := setupTestStore(t)

	first := []inter.User{
		{UID: 1, UserID: "808", Name: "Admin", Privilege: inter.UserAdmin, Card: 4294967295},
		{UID: 2, UserID: "821", Name: "NN-821"},
	}
	require.NoError(t, store.ReplaceUsers("gate", first))
	require.NoError(t, store.ReplaceUsers("door", []inter.User{{UID: 9, UserID: "9"}}))

	users, err := store.ListUsers("gate")
	require.NoError(t, err)
	assert.Equal(t, first, users)

	require.NoError(t, store.ReplaceUsers("gate", first[1:]))
	users, err = store.ListUsers("gate")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "821", users[0].UserID)

	users, err = store.ListUsers("door")
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSaveTemplates_ChangeDetection(t *testing.T) {
	store := setupTestStore(t)

	fingers := []inter.Finger{
		{UID: 1, FingerIndex: 0, Valid: 1, Template: []byte("template-a")},
		{UID: 1, FingerIndex: 6, Valid: 1, Template: []byte("template-b")},
	}
	changed, err := store.SaveTemplates("gate", fingers)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	changed, err = store.SaveTemplates("gate", fingers)
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	fingers[1].Template = []byte("template-b-reenrolled")
	changed, err = store.SaveTemplates("gate", fingers)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	stored, err := store.ListTemplates("gate")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, int8(6), stored[1].FingerIndex)
	assert.Equal(t, []byte("template-b-reenrolled"), stored[1].Template)
}

func TestSaveTemplates_ValidFlagAndRemoval(t *testing.T) {
	store := setupTestStore(t)

	fingers := []inter.Finger{
		{UID: 1, FingerIndex: 0, Valid: 1, Template: []byte("template-a")},
		{UID: 2, FingerIndex: 3, Valid: 1, Template: []byte("template-c")},
	}
	_, err := store.SaveTemplates("gate", fingers)
	require.NoError(t, err)

	// 只改有效标志也要写入
	fingers[0].Valid = 0
	changed, err := store.SaveTemplates("gate", fingers)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	stored, err := store.ListTemplates("gate")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, int8(0), stored[0].Valid)

	// 终端上已删除的模板
	changed, err = store.SaveTemplates("gate", fingers[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	stored, err = store.ListTemplates("gate")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, uint16(1), stored[0].UID)

	_, err = store.SaveTemplates("door", fingers[1:])
	require.NoError(t, err)
	changed, err = store.SaveTemplates("gate", fingers[:1])
	require.NoError(t, err)
	assert.Zero(t, changed)
	other, err := store.ListTemplates("door")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestTemplateCRC(t *testing.T) {
	// CRC-16/MODBUS 标准校验值
	assert.Equal(t, uint16(0x4B37), TemplateCRC([]byte("123456789")))
}

func TestAttendance_DedupAndQuery(t *testing.T) {
	store := setupTestStore(t)

	base := time.Date(2024, time.March, 1, 8, 0, 0, 0, time.Local)
	records := []inter.Attendance{
		{UID: 1, UserID: "808", Timestamp: base, Status: 1},
		{UID: 2, UserID: "821", Timestamp: base.Add(time.Minute), Status: 1},
		{UID: 1, UserID: "808", Timestamp: base.Add(9 * time.Hour), Status: 1, Punch: 1},
	}
	n, err := store.AppendAttendance("gate", records)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// 重复同步只新增未见过的记录
	more := append(records, inter.Attendance{UID: 2, UserID: "821", Timestamp: base.Add(10 * time.Hour)})
	n, err = store.AppendAttendance("gate", more)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.QueryAttendance("gate", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "808", got[0].UserID)
	assert.True(t, base.Equal(got[0].Timestamp))
	assert.Equal(t, uint16(2), got[1].UID)

	got, err = store.QueryAttendance("gate", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, uint8(1), got[2].Punch)

	got, err = store.QueryAttendance("door", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSyncRuns(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.BeginSyncRun("gate")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	run.Users, run.Templates, run.Attendance = 70, 12, 605
	require.NoError(t, store.FinishSyncRun(run))

	failed, err := store.BeginSyncRun("gate")
	require.NoError(t, err)
	failed.Error = "network: 通信失败"
	require.NoError(t, store.FinishSyncRun(failed))

	runs, err := store.ListSyncRuns("gate", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []string{run.ID, failed.ID}, ids)
	for _, r := range runs {
		assert.False(t, r.FinishedAt.IsZero())
		if r.ID == run.ID {
			assert.Equal(t, 605, r.Attendance)
			assert.Empty(t, r.Error)
		}
	}

	assert.Error(t, store.FinishSyncRun(inter.SyncRun{ID: "missing"}))
}

func TestWriteLog(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.WriteLog("gate", "warn", "用户表短于声明长度"))

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM logs WHERE terminal = ?", "gate").Scan(&count))
	assert.Equal(t, 1, count)
}
