// Package manager 把代理列表、验证、代理池和选择器组合在一起，负责重新加载和定时重新验证
package manager

import (
	"context"
	"errors"
	"github.com/LubyRuffy/rproxypool/checkproxy"
	"github.com/LubyRuffy/rproxypool/config"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/models"
	"github.com/LubyRuffy/rproxypool/pool"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/LubyRuffy/rproxypool/rotation"
	"sync"
	"time"
)

// ErrNotReady 代理池还没有加载成功
var ErrNotReady = errors.New("manager: proxy pool not loaded")

// Stats 当前状态
type Stats struct {
	Mode       rotation.Mode `json:"mode"`
	Target     int           `json:"target"`
	Size       int           `json:"size"`
	Valid      int           `json:"valid"`
	Sessions   int           `json:"sessions"`
	LastPass   time.Time     `json:"last_pass"`
	LastError  string        `json:"last_error,omitempty"`
	Revalidate string        `json:"revalidate_interval"`
}

// Manager 代理池的总控制器
type Manager struct {
	cfg    *config.Config
	store  pool.Store
	prober checkproxy.Prober
	db     *models.DB // 可以为空

	mu       sync.RWMutex
	pool     *pool.Pool
	selector *rotation.Selector
	lastPass time.Time
	lastErr  error

	reloadMu sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New 创建管理器，db 为空的时候不保存检查记录
func New(cfg *config.Config, store pool.Store, prober checkproxy.Prober, db *models.DB) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		prober:   prober,
		db:       db,
		stopChan: make(chan struct{}),
	}
}

// Start 加载代理池，配置了 RevalidateInterval 的时候启动定时重新验证
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Reload(ctx); err != nil {
		return err
	}

	if m.cfg.RevalidateInterval > 0 {
		m.wg.Add(1)
		go m.schedulerLoop(m.cfg.RevalidateInterval)
	}
	return nil
}

func (m *Manager) schedulerLoop(interval time.Duration) {
	defer m.wg.Done()
	l := logger.WithComponent("manager")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.Info().Dur("interval", interval).Msg("revalidate scheduler started")
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-m.stopChan:
					cancel()
				case <-ctx.Done():
				}
			}()
			if err := m.Revalidate(ctx); err != nil {
				l.Warn().Err(err).Msg("scheduled revalidation failed")
			}
			cancel()
		case <-m.stopChan:
			l.Info().Msg("revalidate scheduler stopped")
			return
		}
	}
}

// Stop 停止后台任务
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}

func (m *Manager) poolOptions() []pool.Option {
	opts := []pool.Option{
		pool.WithTargetURL(m.cfg.TestURL),
		pool.WithTimeout(m.cfg.ProbeTimeout),
		pool.WithConcurrency(m.cfg.Concurrency),
		pool.WithRecheckValid(m.cfg.RecheckValid),
	}
	if m.db != nil {
		opts = append(opts, pool.WithOnProbe(m.saveCheck))
	}
	return opts
}

func (m *Manager) saveCheck(rec pool.Record, res checkproxy.Result) {
	if err := m.db.SaveCheck(rec, res); err != nil {
		l := logger.WithComponent("manager")
		l.Warn().Err(err).Str("proxy", rec.Raw).Msg("save check failed")
	}
}

func (m *Manager) newSelector(p *pool.Pool) *rotation.Selector {
	return rotation.FromPool(p, m.cfg.RotateMode,
		rotation.WithStartIndex(m.cfg.StartIndex),
		rotation.WithSessionTTL(m.cfg.SessionTTL),
	)
}

// swap 一次验证结束之后更新选择器和数据库快照
func (m *Manager) swap(p *pool.Pool, passErr error) {
	sel := m.newSelector(p)

	m.mu.Lock()
	m.pool = p
	m.selector = sel
	m.lastPass = time.Now()
	m.lastErr = passErr
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.SyncPool(p.Records()); err != nil {
			l := logger.WithComponent("manager")
			l.Warn().Err(err).Msg("sync pool to db failed")
		}
	}
}

// Reload 重新读取代理列表并验证，失败的时候保留之前的代理池
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	p, err := pool.LoadAndValidate(ctx, m.store, m.cfg.MaxValidProxies, m.prober, m.poolOptions()...)
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		return err
	}
	m.swap(p, nil)
	return nil
}

// Revalidate 在当前列表上补充验证，列表会被重写
func (m *Manager) Revalidate(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.mu.RLock()
	p := m.pool
	m.mu.RUnlock()
	if p == nil {
		return ErrNotReady
	}

	err := p.Revalidate(ctx)
	if err != nil && !errors.Is(err, pool.ErrNoValidProxies) {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		return err
	}
	// 没有可用的代理也要更新，选择器会返回 ErrEmptyPool
	m.swap(p, err)
	return err
}

// Selector 当前的选择器
func (m *Manager) Selector() (*rotation.Selector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.selector == nil {
		return nil, ErrNotReady
	}
	return m.selector, nil
}

// Next 按配置的策略选择
func (m *Manager) Next() (*proxyurl.Proxy, error) {
	s, err := m.Selector()
	if err != nil {
		return nil, err
	}
	return s.Next()
}

// Select 按指定的策略选择
func (m *Manager) Select(mode rotation.Mode) (*proxyurl.Proxy, error) {
	s, err := m.Selector()
	if err != nil {
		return nil, err
	}
	return s.Select(mode)
}

// ForSession 会话固定使用的代理
func (m *Manager) ForSession(key string) (*proxyurl.Proxy, error) {
	s, err := m.Selector()
	if err != nil {
		return nil, err
	}
	return s.ForSession(key)
}

// EndSession 释放会话
func (m *Manager) EndSession(key string) {
	if s, err := m.Selector(); err == nil {
		s.EndSession(key)
	}
}

// Reset 清除 session 模式固定的代理
func (m *Manager) Reset() error {
	s, err := m.Selector()
	if err != nil {
		return err
	}
	s.Reset()
	return nil
}

// Records 当前代理池的记录
func (m *Manager) Records() []pool.Record {
	m.mu.RLock()
	p := m.pool
	m.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p.Records()
}

// DB 数据库，可能为空
func (m *Manager) DB() *models.DB {
	return m.db
}

// Stats 当前状态
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		Mode:       m.cfg.RotateMode,
		Target:     m.cfg.MaxValidProxies,
		LastPass:   m.lastPass,
		Revalidate: m.cfg.RevalidateInterval.String(),
	}
	if m.pool != nil {
		st.Size = m.pool.Len()
	}
	if m.selector != nil {
		st.Valid = m.selector.Len()
		st.Sessions = m.selector.Sessions()
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Prober 验证使用的 Prober
func (m *Manager) Prober() checkproxy.Prober {
	return m.prober
}

// Config 配置
func (m *Manager) Config() *config.Config {
	return m.cfg
}
