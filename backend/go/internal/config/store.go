package config

import (
	"fmt"
	"strings"
	"sync"

	"ragbase/backend/go/internal/rag_service/rag/errs"
)

// Validate 检查判别标签以及当前生效变体的字段。
func (c DatabaseConfig) Validate() error {
	const op = "config.Database"
	if !c.DBType.Valid() {
		return errs.E(errs.KindValidation, op, "unsupported db_type %q, expected %q or %q", c.DBType, DBTypeStandard, DBTypeLite)
	}
	if strings.TrimSpace(c.CollectionName) == "" {
		return errs.E(errs.KindValidation, op, "collection_name must not be empty")
	}
	switch c.DBType {
	case DBTypeStandard:
		s := c.MilvusStandard
		if strings.TrimSpace(s.Host) == "" {
			return errs.E(errs.KindValidation, op, "milvus_standard.host must not be empty")
		}
		if s.Port < 1 || s.Port > 65535 {
			return errs.E(errs.KindValidation, op, "milvus_standard.port %d out of range 1-65535", s.Port)
		}
		if s.Timeout <= 0 {
			return errs.E(errs.KindValidation, op, "milvus_standard.timeout must be positive")
		}
	case DBTypeLite:
		l := c.MilvusLite
		if strings.TrimSpace(l.DBPath) == "" {
			return errs.E(errs.KindValidation, op, "milvus_lite.db_path must not be empty")
		}
		if l.Dim <= 0 {
			return errs.E(errs.KindValidation, op, "milvus_lite.dim must be positive")
		}
		if l.Timeout < 0 {
			return errs.E(errs.KindValidation, op, "milvus_lite.timeout must not be negative")
		}
	}
	return nil
}

// StandardPatch 是 Milvus 标准版配置的部分更新，nil 字段保持不变。
type StandardPatch struct {
	Host     *string `json:"host,omitempty"`
	Port     *int    `json:"port,omitempty"`
	User     *string `json:"user,omitempty"`
	Password *string `json:"password,omitempty"`
	Secure   *bool   `json:"secure,omitempty"`
	Timeout  *int    `json:"timeout,omitempty"`
}

// LitePatch 是 Lite 配置的部分更新。
type LitePatch struct {
	DBPath  *string `json:"db_path,omitempty"`
	Dim     *int    `json:"dim,omitempty"`
	Timeout *int    `json:"timeout,omitempty"`
}

// DatabaseUpdate 描述一次数据库配置更新：DBType 必填，
// Config 中的字段合并进该标签对应的变体。
type DatabaseUpdate struct {
	DBType   DBType
	Standard StandardPatch
	Lite     LitePatch
}

// apply 在副本上合并更新并校验，不修改 base。
func (u DatabaseUpdate) apply(base DatabaseConfig) (DatabaseConfig, error) {
	if !u.DBType.Valid() {
		return base, errs.E(errs.KindValidation, "config.UpdateDatabase", "unsupported db_type %q, expected %q or %q", u.DBType, DBTypeStandard, DBTypeLite)
	}
	next := base
	next.DBType = u.DBType
	switch u.DBType {
	case DBTypeStandard:
		p := u.Standard
		if p.Host != nil {
			next.MilvusStandard.Host = *p.Host
		}
		if p.Port != nil {
			next.MilvusStandard.Port = *p.Port
		}
		if p.User != nil {
			next.MilvusStandard.User = *p.User
		}
		if p.Password != nil {
			next.MilvusStandard.Password = *p.Password
		}
		if p.Secure != nil {
			next.MilvusStandard.Secure = *p.Secure
		}
		if p.Timeout != nil {
			next.MilvusStandard.Timeout = *p.Timeout
		}
	case DBTypeLite:
		if u.Lite.DBPath != nil {
			next.MilvusLite.DBPath = *u.Lite.DBPath
		}
		if u.Lite.Dim != nil {
			next.MilvusLite.Dim = *u.Lite.Dim
		}
		if u.Lite.Timeout != nil {
			next.MilvusLite.Timeout = *u.Lite.Timeout
		}
	}
	if err := next.Validate(); err != nil {
		return base, err
	}
	return next, nil
}

// Store 是进程内唯一的可变配置持有者。读取返回深拷贝快照，
// 更新先在副本上校验，成功后整体替换。
type Store struct {
	mu  sync.RWMutex
	cfg *AppConfig
}

// NewStore 使用给定配置创建 Store，cfg 会被复制。
func NewStore(cfg *AppConfig) *Store {
	if cfg == nil {
		cfg = Default()
	}
	return &Store{cfg: cfg.Clone()}
}

// Get 返回当前配置的快照。快照不会随后续更新变化。
func (s *Store) Get() *AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Database 返回当前数据库配置。
func (s *Store) Database() DatabaseConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Database
}

// UpdateDatabase 原子地应用数据库配置更新。校验失败时状态保持不变。
func (s *Store) UpdateDatabase(u DatabaseUpdate) (DatabaseConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := u.apply(s.cfg.Database)
	if err != nil {
		return s.cfg.Database, err
	}
	s.cfg.Database = next
	return next, nil
}

// WithDatabaseOverride 临时应用 u 并调用 fn，返回前总是恢复原有数据库配置，
// 包括 fn 返回错误或发生 panic 的情况。更新本身校验失败时 fn 不会被调用。
// fn 执行期间若有 UpdateDatabase 提交了新配置，则保留该提交，不再恢复。
func (s *Store) WithDatabaseOverride(u DatabaseUpdate, fn func(DatabaseConfig) error) (err error) {
	s.mu.Lock()
	prev := s.cfg.Database
	next, err := u.apply(prev)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg.Database = next
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.cfg.Database == next {
			s.cfg.Database = prev
		}
		s.mu.Unlock()
	}()
	if fn == nil {
		return nil
	}
	return fn(next)
}

// String 返回不含密码的简要描述，用于日志。
func (c DatabaseConfig) String() string {
	if c.IsLite() {
		return fmt.Sprintf("%s(path=%s, dim=%d)", c.DBType, c.MilvusLite.DBPath, c.MilvusLite.Dim)
	}
	return fmt.Sprintf("%s(addr=%s, user=%s, secure=%t)", c.DBType, c.MilvusStandard.Address(), c.MilvusStandard.User, c.MilvusStandard.Secure)
}
