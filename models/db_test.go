package models

import (
	"errors"
	"github.com/LubyRuffy/rproxypool/checkproxy"
	"github.com/LubyRuffy/rproxypool/pool"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	dbfile := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := Open(dbfile+DSNOptions, false)
	require.Nil(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func record(t *testing.T, raw string, status pool.Status) pool.Record {
	p, err := proxyurl.Parse(raw)
	require.Nil(t, err)
	return pool.Record{Raw: raw, Status: status, Proxy: p}
}

func TestOpen(t *testing.T) {
	dbfile := filepath.Join(t.TempDir(), "open.sqlite")
	db, err := Open(dbfile, true)
	require.Nil(t, err)

	// 确保文件生成，并且有表结构
	stmt := &gorm.Statement{DB: db.Gorm()}
	require.Nil(t, stmt.Parse(&Proxy{}))
	assert.Equal(t, "proxies", stmt.Schema.Table)
	assert.True(t, db.Gorm().Migrator().HasTable(&Proxy{}))
	assert.True(t, db.Gorm().Migrator().HasTable(&CheckLog{}))
	require.Nil(t, db.Close())

	// 再次打开不会重复建表
	db, err = Open(dbfile, false)
	require.Nil(t, err)
	assert.Nil(t, db.Close())
}

func TestDB_SaveCheck(t *testing.T) {
	db := openTestDB(t)
	rec := record(t, "http://u:p@1.1.1.1:8080", pool.Untested)

	require.Nil(t, db.SaveCheck(rec, checkproxy.Result{Valid: true, StatusCode: 200, Cost: 120 * time.Millisecond, ExitIP: "9.9.9.9"}))
	require.Nil(t, db.SaveCheck(rec, checkproxy.Result{Valid: false, Reason: "timeout: deadline", Cost: time.Second}))
	require.Nil(t, db.SaveCheck(rec, checkproxy.Result{Valid: true, StatusCode: 200, Cost: 80 * time.Millisecond}))

	list, total, err := db.ListProxies("", 1, 10)
	require.Nil(t, err)
	require.Equal(t, int64(1), total)
	p := list[0]
	assert.Equal(t, "http", p.ProxyType)
	assert.Equal(t, "1.1.1.1", p.Host)
	assert.Equal(t, 8080, p.Port)
	assert.NotContains(t, p.ProxyURL, ":p@")
	assert.Equal(t, "valid", p.Status)
	assert.Equal(t, 2, p.SuccessCount)
	assert.Equal(t, 1, p.FailedCount)
	assert.Equal(t, int64(80), p.Latency)
	assert.Equal(t, "", p.LastError)
	assert.True(t, p.LastSuccessTime.Valid)
	assert.True(t, p.LastFailedTime.Valid)

	// 没有打开 LogError，失败的不记录
	logs, err := db.CheckLogs(rec.Raw, 10)
	require.Nil(t, err)
	assert.Len(t, logs, 2)
	for _, l := range logs {
		assert.True(t, l.Success)
	}

	db.LogError = true
	require.Nil(t, db.SaveCheck(rec, checkproxy.Result{Valid: false, StatusCode: 403, Reason: "HTTP/1.1 403 Forbidden"}))
	logs, err = db.CheckLogs(rec.Raw, 1)
	require.Nil(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Equal(t, 403, logs[0].StatusCode)
	assert.Equal(t, "HTTP/1.1 403 Forbidden", logs[0].Error)
}

func TestDB_SyncPool(t *testing.T) {
	db := openTestDB(t)
	require.Nil(t, db.SyncPool([]pool.Record{
		record(t, "1.1.1.1:80", pool.Valid),
		record(t, "2.2.2.2:80", pool.Untested),
		record(t, "3.3.3.3:80", pool.Untested),
		{Raw: "bad", Status: pool.Invalid, Err: errors.New("missing port")},
	}))

	_, total, err := db.ListProxies("", 1, 10)
	require.Nil(t, err)
	assert.Equal(t, int64(4), total)
	list, total, err := db.ListProxies("untested", 1, 10)
	require.Nil(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "2.2.2.2:80", list[0].Raw)
	list, _, err = db.ListProxies("invalid", 1, 10)
	require.Nil(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "missing port", list[0].LastError)

	// 检查失败的保持 invalid，其他不在池中的标记为 removed，统计保留
	require.Nil(t, db.SaveCheck(record(t, "2.2.2.2:80", pool.Untested), checkproxy.Result{Valid: true}))
	require.Nil(t, db.SaveCheck(record(t, "3.3.3.3:80", pool.Untested), checkproxy.Result{Reason: "timeout"}))
	require.Nil(t, db.SaveCheck(record(t, "4.4.4.4:80", pool.Untested), checkproxy.Result{Valid: true}))
	require.Nil(t, db.SyncPool([]pool.Record{
		record(t, "1.1.1.1:80", pool.Valid),
		record(t, "2.2.2.2:80", pool.Valid),
	}))
	list, total, err = db.ListProxies("", 1, 10)
	require.Nil(t, err)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, "valid", list[1].Status)
	assert.Equal(t, 1, list[1].SuccessCount)

	list, total, err = db.ListProxies("invalid", 1, 10)
	require.Nil(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "3.3.3.3:80", list[0].Raw)
	assert.Equal(t, 1, list[0].FailedCount)
	assert.Equal(t, "timeout", list[0].LastError)

	list, _, err = db.ListProxies(StatusRemoved, 1, 10)
	require.Nil(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "4.4.4.4:80", list[0].Raw)
	assert.Equal(t, 1, list[0].SuccessCount)

	// 重新加入的恢复状态
	require.Nil(t, db.SyncPool([]pool.Record{record(t, "4.4.4.4:80", pool.Untested)}))
	list, _, err = db.ListProxies("untested", 1, 10)
	require.Nil(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "4.4.4.4:80", list[0].Raw)

	require.Nil(t, db.SyncPool(nil))
	_, total, err = db.ListProxies(StatusRemoved, 1, 10)
	require.Nil(t, err)
	assert.Equal(t, int64(3), total)
	_, total, err = db.ListProxies("", 1, 10)
	require.Nil(t, err)
	assert.Equal(t, int64(5), total)
}

func TestDB_ListProxies_page(t *testing.T) {
	db := openTestDB(t)
	var records []pool.Record
	for _, raw := range []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80", "4.4.4.4:80", "5.5.5.5:80"} {
		records = append(records, record(t, raw, pool.Untested))
	}
	require.Nil(t, db.SyncPool(records))

	list, total, err := db.ListProxies("", 2, 2)
	require.Nil(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, list, 2)
	assert.Equal(t, "3.3.3.3:80", list[0].Raw)
	assert.Equal(t, "4.4.4.4:80", list[1].Raw)

	list, _, err = db.ListProxies("", 3, 2)
	require.Nil(t, err)
	assert.Len(t, list, 1)

	// 非法参数使用默认值
	list, _, err = db.ListProxies("", 0, 0)
	require.Nil(t, err)
	assert.Len(t, list, 5)
}
