package setting

import (
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/pkg/metrics"
)

// SessionStore 会话的唯一持有者。
// 读方拿到的是深拷贝，所有修改必须经由 Update 写回。
type SessionStore struct {
	cache *gocache.Cache
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionStore 创建会话存储；sweepInterval 为过期清扫周期
func NewSessionStore(ttl, sweepInterval time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &SessionStore{
		cache: gocache.New(ttl, sweepInterval),
		ttl:   ttl,
		now:   time.Now,
	}
}

// OnEvicted 注册删除/过期回调，用于清理事件流、任务登记等附属状态
func (s *SessionStore) OnEvicted(fn func(sessionID string)) {
	s.cache.OnEvicted(func(key string, _ interface{}) {
		metrics.SettingActiveSessions.Set(float64(s.cache.ItemCount()))
		if fn != nil {
			fn(key)
		}
	})
}

// Create 创建并保存新会话
func (s *SessionStore) Create(userID, novelID, prompt, strategyID, templateID string) *entity.GenerationSession {
	sess := entity.NewGenerationSession(uuid.NewString(), userID, novelID, prompt, strategyID, templateID, s.now(), s.ttl)
	s.mu.Lock()
	s.put(sess)
	s.mu.Unlock()
	metrics.SettingActiveSessions.Set(float64(s.cache.ItemCount()))
	return sess.Clone()
}

// Get 返回会话副本；过期会话会被移除并报告不存在
func (s *SessionStore) Get(id string) (*entity.GenerationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Save 整体覆盖会话
func (s *SessionStore) Save(sess *entity.GenerationSession) error {
	if sess == nil {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.load(sess.ID); err != nil {
		return err
	}
	cp := sess.Clone()
	cp.UpdatedAt = s.now()
	s.put(cp)
	return nil
}

// Update 原子地读-改-写会话。fn 作用于副本，返回错误时不落盘。
func (s *SessionStore) Update(id string, fn func(sess *entity.GenerationSession) error) (*entity.GenerationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.load(id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	s.put(next)
	return next.Clone(), nil
}

// Delete 删除会话
func (s *SessionStore) Delete(id string) {
	s.cache.Delete(id)
}

// Len 当前会话数
func (s *SessionStore) Len() int {
	return s.cache.ItemCount()
}

// IDs 当前全部会话 ID（含尚未清扫的过期项）
func (s *SessionStore) IDs() []string {
	items := s.cache.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	return ids
}

func (s *SessionStore) load(id string) (*entity.GenerationSession, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess, ok := v.(*entity.GenerationSession)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.IsExpired(s.now()) {
		s.cache.Delete(id)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *SessionStore) put(sess *entity.GenerationSession) {
	d := sess.ExpiresAt.Sub(s.now())
	if d <= 0 {
		d = time.Nanosecond
	}
	s.cache.Set(sess.ID, sess, d)
}
