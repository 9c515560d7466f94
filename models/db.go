// Package models sqlite中保存代理池的快照和检查日志
package models

import (
	"database/sql"
	"github.com/LubyRuffy/rproxypool/checkproxy"
	"github.com/LubyRuffy/rproxypool/pool"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"time"
)

// DSNOptions 打开文件数据库时附加的参数
const DSNOptions = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(9999999)"

// DB 数据库
type DB struct {
	gdb *gorm.DB

	// LogError 是否启用错误日志：在检查失败的情况下也记录日志
	LogError bool
}

// Open 打开数据库并且建表，debug 打开的时候输出sql
func Open(dsn string, debug bool) (*DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}

	if err = gdb.AutoMigrate(&Proxy{}, &CheckLog{}); err != nil {
		return nil, err
	}

	return &DB{gdb: gdb}, nil
}

// Gorm 获取底层的 gorm.DB
func (db *DB) Gorm() *gorm.DB {
	return db.gdb
}

// Close 关闭
func (db *DB) Close() error {
	d, err := db.gdb.DB()
	if err != nil {
		return err
	}
	return d.Close()
}

// SaveCheck 保存一次检查结果：更新代理表的统计，写入检查日志
func (db *DB) SaveCheck(rec pool.Record, res checkproxy.Result) error {
	return db.gdb.Transaction(func(tx *gorm.DB) error {
		var p Proxy
		if err := tx.Where(Proxy{Raw: rec.Raw}).Attrs(newProxy(rec)).FirstOrCreate(&p).Error; err != nil {
			return err
		}

		now := sql.NullTime{Time: time.Now(), Valid: true}
		p.Latency = res.Cost.Milliseconds()
		if res.Valid {
			p.Status = pool.Valid.String()
			p.SuccessCount++
			p.LastSuccessTime = now
			p.ExitIP = res.ExitIP
			p.LastError = ""
		} else {
			p.Status = pool.Invalid.String()
			p.FailedCount++
			p.LastFailedTime = now
			p.LastError = res.Reason
		}
		if err := tx.Save(&p).Error; err != nil {
			return err
		}

		if !res.Valid && !db.LogError {
			return nil
		}
		return tx.Create(&CheckLog{
			Raw:        rec.Raw,
			ProxyType:  p.ProxyType,
			Host:       p.Host,
			Success:    res.Valid,
			StatusCode: res.StatusCode,
			Latency:    p.Latency,
			Error:      res.Reason,
		}).Error
	})
}

// SyncPool 一次验证之后同步代理表：池中的更新状态，不在池中的保留统计，
// 检查失败的保持 invalid，其他的标记为 removed
func (db *DB) SyncPool(records []pool.Record) error {
	return db.gdb.Transaction(func(tx *gorm.DB) error {
		raws := make([]string, 0, len(records))
		for _, rec := range records {
			raws = append(raws, rec.Raw)
			assign := Proxy{Status: rec.Status.String()}
			if rec.Err != nil {
				assign.LastError = rec.Err.Error()
			}
			if err := tx.Where(Proxy{Raw: rec.Raw}).Attrs(newProxy(rec)).Assign(assign).FirstOrCreate(&Proxy{}).Error; err != nil {
				return err
			}
		}

		gone := tx.Model(&Proxy{}).Where("status NOT IN ?", []string{pool.Invalid.String(), StatusRemoved})
		if len(raws) > 0 {
			gone = gone.Where("raw NOT IN ?", raws)
		}
		return gone.Update("status", StatusRemoved).Error
	})
}

// ListProxies 分页列出代理，status 为空表示全部
func (db *DB) ListProxies(status string, page, size int) ([]Proxy, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}

	q := db.gdb.Model(&Proxy{})
	if status != "" {
		q = q.Where(Proxy{Status: status})
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var list []Proxy
	if err := q.Offset((page - 1) * size).Limit(size).Order("id asc").Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// CheckLogs 某个代理最近的检查日志
func (db *DB) CheckLogs(raw string, limit int) ([]CheckLog, error) {
	var logs []CheckLog
	err := db.gdb.Where(CheckLog{Raw: raw}).Order("id desc").Limit(limit).Find(&logs).Error
	return logs, err
}
