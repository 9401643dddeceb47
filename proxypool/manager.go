package proxypool

import (
	"context"
	"errors"
	"sync"
	"time"

	"jobcrawl_nexus/internal/shared/logger"
	"jobcrawl_nexus/proxypool/model"
	"jobcrawl_nexus/proxypool/scraper"
	"jobcrawl_nexus/proxypool/storage"
	"jobcrawl_nexus/proxypool/validator"
)

// ErrNoProxyAvailable 代理池为空。
var ErrNoProxyAvailable = errors.New("proxypool: no proxy available")

// Manager 是代理池的总控制器：有序列表 + 循环游标。
// 一把锁同时保护游标和所有状态迁移。
type Manager struct {
	storage   storage.Storage
	scrapers  []scraper.Scraper
	validator *validator.Validator

	mu        sync.Mutex
	endpoints []*model.Endpoint
	index     map[string]*model.Endpoint
	cursor    int
	resets    int

	now func() time.Time

	// 调度器与生命周期管理
	revalidateInterval time.Duration
	stopChan           chan struct{}
	stopOnce           sync.Once
	wg                 sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

func WithStorage(s storage.Storage) Option { return func(m *Manager) { m.storage = s } }

func WithValidator(v *validator.Validator) Option { return func(m *Manager) { m.validator = v } }

func WithScrapers(s ...scraper.Scraper) Option {
	return func(m *Manager) { m.scrapers = append(m.scrapers, s...) }
}

// WithRevalidateInterval enables the background loop that re-probes failed
// endpoints. Zero disables it.
func WithRevalidateInterval(d time.Duration) Option {
	return func(m *Manager) { m.revalidateInterval = d }
}

// NewManager 创建代理池，初始代理按给定顺序加入。
func NewManager(endpoints []*model.Endpoint, opts ...Option) *Manager {
	m := &Manager{
		index:    make(map[string]*model.Endpoint),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Add(endpoints...)
	return m
}

// Add appends endpoints not already in the pool, keeping insertion order.
// It returns how many were added.
func (m *Manager) Add(endpoints ...*model.Endpoint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, e := range endpoints {
		if e == nil {
			continue
		}
		if _, exists := m.index[e.ID]; exists {
			continue
		}
		m.index[e.ID] = e
		m.endpoints = append(m.endpoints, e)
		added++
	}
	return added
}

// Len returns the pool size.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.endpoints)
}

// Resets returns how many times the pool has been revived after every
// endpoint was marked failed.
func (m *Manager) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Next 从游标位置开始返回第一个非 Failed 的代理并推进游标。
// 全部 Failed 时把所有代理重置为 Unknown (每次耗尽只重置一次)，
// 然后返回游标处的代理。
func (m *Manager) Next() (*model.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.endpoints)
	if n == 0 {
		return nil, ErrNoProxyAvailable
	}

	for i := 0; i < n; i++ {
		e := m.endpoints[m.cursor]
		m.cursor = (m.cursor + 1) % n
		if e.State() != model.StateFailed {
			e.MarkUsed(m.now())
			return e, nil
		}
	}

	// 游标转了一整圈，回到起点。
	for _, e := range m.endpoints {
		e.SetState(model.StateUnknown)
	}
	m.resets++
	l := logger.WithComponent("ProxyPool/Manager")
	l.Warn().
		Int("pool_size", n).
		Int("resets", m.resets).
		Msg("All proxies failed, resetting pool.")

	e := m.endpoints[m.cursor]
	m.cursor = (m.cursor + 1) % n
	e.MarkUsed(m.now())
	return e, nil
}

// ReportSuccess 标记代理为 Healthy。
func (m *Manager) ReportSuccess(e *model.Endpoint) {
	if e == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[e.ID]; !ok {
		return
	}
	e.SetState(model.StateHealthy)
	e.SuccessCount++
	e.FailureCount = 0
}

// ReportFailure 标记代理为 Failed。对已 Failed 的代理重复调用不产生变化。
func (m *Manager) ReportFailure(e *model.Endpoint) {
	if e == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[e.ID]; !ok || e.State() == model.StateFailed {
		return
	}
	e.SetState(model.StateFailed)
	e.FailureCount++
	e.SuccessCount = 0
	l := logger.WithComponent("ProxyPool/Manager")
	l.Debug().
		Str("proxy_id", e.ID).
		Int("failures", e.FailureCount).
		Msg("Proxy marked as failed.")
}

// Snapshot returns value copies of every endpoint in pool order.
func (m *Manager) Snapshot() []model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Snapshot, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		out = append(out, model.Snapshot{
			ID:           e.ID,
			Address:      e.Address,
			Protocol:     e.Protocol,
			Source:       e.Source,
			State:        e.State().String(),
			LastUsedAt:   e.LastUsedAt(),
			FailureCount: e.FailureCount,
			SuccessCount: e.SuccessCount,
		})
	}
	return out
}

// Start 加载持久化状态并启动后台重新验证循环。
func (m *Manager) Start() {
	l := logger.WithComponent("ProxyPool/Manager")
	if err := m.loadState(); err != nil {
		l.Error().Err(err).Msg("Failed to load proxy state. Continuing with configured proxies.")
	}

	if m.revalidateInterval <= 0 || m.validator == nil {
		return
	}
	l.Info().Dur("interval", m.revalidateInterval).Msg("Revalidation scheduler started.")
	m.wg.Add(1)
	go m.schedulerLoop()
}

func (m *Manager) schedulerLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.revalidateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.revalidateInterval)
			m.RevalidateFailed(ctx)
			cancel()
		case <-m.stopChan:
			return
		}
	}
}

// Stop 停止后台任务并保存状态。可重复调用。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
		if err := m.saveState(); err != nil {
			logger.Error().Err(err).Msg("Failed to save proxy state on shutdown.")
		}
		logger.Info().Msg("ProxyPool Manager stopped.")
	})
}

// Validate probes every endpoint once and applies the results.
func (m *Manager) Validate(ctx context.Context) {
	if m.validator == nil {
		return
	}
	m.mu.Lock()
	all := make([]*model.Endpoint, len(m.endpoints))
	copy(all, m.endpoints)
	m.mu.Unlock()

	m.apply(m.validator.Validate(ctx, all), false)
}

// RevalidateFailed 重新探测 Failed 代理，通过的恢复为 Unknown。
func (m *Manager) RevalidateFailed(ctx context.Context) {
	if m.validator == nil {
		return
	}
	m.mu.Lock()
	var failed []*model.Endpoint
	for _, e := range m.endpoints {
		if e.State() == model.StateFailed {
			failed = append(failed, e)
		}
	}
	m.mu.Unlock()

	if len(failed) == 0 {
		return
	}
	m.apply(m.validator.Validate(ctx, failed), true)
}

func (m *Manager) apply(results []validator.Result, restoreOnly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, r := range results {
		e := r.Endpoint
		e.LastChecked = now
		switch {
		case r.OK() && restoreOnly:
			e.SetState(model.StateUnknown)
		case r.OK():
			e.SetState(model.StateHealthy)
			e.SuccessCount++
			e.FailureCount = 0
		case !restoreOnly && e.State() != model.StateFailed:
			e.SetState(model.StateFailed)
			e.FailureCount++
			e.SuccessCount = 0
		}
	}
}

// Refresh 运行所有代理源，验证新发现的代理 (若配置了 validator)，
// 并把可用的加入池中。
func (m *Manager) Refresh(ctx context.Context) int {
	l := logger.WithComponent("ProxyPool/Manager")
	if len(m.scrapers) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	scrapedChan := make(chan []*model.Endpoint, len(m.scrapers))
	for _, s := range m.scrapers {
		wg.Add(1)
		go func(sc scraper.Scraper) {
			defer wg.Done()
			found, err := sc.Scrape(ctx)
			if err != nil {
				l.Warn().Err(err).Str("source", sc.Name()).Msg("Scraper failed.")
				return
			}
			scrapedChan <- found
		}(s)
	}
	wg.Wait()
	close(scrapedChan)

	var fresh []*model.Endpoint
	seen := make(map[string]bool)
	m.mu.Lock()
	for found := range scrapedChan {
		for _, e := range found {
			if _, exists := m.index[e.ID]; exists || seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			fresh = append(fresh, e)
		}
	}
	m.mu.Unlock()

	if len(fresh) == 0 {
		l.Info().Msg("No new proxies discovered.")
		return 0
	}

	if m.validator != nil {
		var healthy []*model.Endpoint
		for _, r := range m.validator.Validate(ctx, fresh) {
			if r.OK() {
				r.Endpoint.SetState(model.StateHealthy)
				healthy = append(healthy, r.Endpoint)
			}
		}
		fresh = healthy
	}

	added := m.Add(fresh...)
	l.Info().Int("added", added).Msg("Proxy refresh finished.")
	return added
}

// loadState 用状态文件中的记录恢复已知代理的状态，
// 并加入文件里有而配置里没有的代理。
func (m *Manager) loadState() error {
	if m.storage == nil {
		return nil
	}
	saved, err := m.storage.Load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range saved {
		if e, ok := m.index[s.ID]; ok {
			e.SetState(s.State())
			e.FailureCount = s.FailureCount
			e.SuccessCount = s.SuccessCount
			if t := s.LastUsedAt(); !t.IsZero() {
				e.MarkUsed(t)
			}
			continue
		}
		if s.Credentials != nil && s.Credentials.Password == "" {
			// 没有密码无法使用，等代理列表重新提供。
			continue
		}
		m.index[s.ID] = s
		m.endpoints = append(m.endpoints, s)
	}
	return nil
}

func (m *Manager) saveState() error {
	if m.storage == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storage.Save(m.endpoints)
}
