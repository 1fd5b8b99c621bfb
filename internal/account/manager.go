package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"relay-trader/internal/config"
	"relay-trader/internal/exchange"
)

var (
	// ErrKeyNotFound 表示指定的API密钥不存在。
	ErrKeyNotFound = errors.New("account: API密钥不存在")
	// ErrKeyExists 表示密钥ID已被占用。
	ErrKeyExists = errors.New("account: API密钥ID已存在")
)

// APIKey 为一条交易所凭证记录。
type APIKey struct {
	ID        string
	Name      string
	Key       string
	Secret    string
	Testnet   bool
	Active    bool
	CreatedAt time.Time
}

// SafeAPIKey 为不含敏感字段的对外视图。
type SafeAPIKey struct {
	ID        string    `json:"key_id"`
	Name      string    `json:"name"`
	Testnet   bool      `json:"testnet"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager 维护多份API凭证并按需构造交易网关。网关按密钥ID缓存，
// 删除密钥时同时丢弃缓存的网关。
type Manager struct {
	mu       sync.Mutex
	defaults exchange.Credentials
	keys     map[string]APIKey
	clients  map[string]*exchange.Client
	logger   *zap.Logger
}

// NewManager 根据默认凭证配置创建凭证管理器。
func NewManager(cfg config.ExchangeConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		defaults: exchange.Credentials{
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			UseSandbox: cfg.UseSandbox,
		},
		keys:    make(map[string]APIKey),
		clients: make(map[string]*exchange.Client),
		logger:  logger,
	}
}

// AddKey 登记一条新凭证。
func (m *Manager) AddKey(key APIKey) error {
	key.ID = strings.TrimSpace(key.ID)
	if key.ID == "" || key.Key == "" || key.Secret == "" {
		return errors.New("account: key_id、api_key 与 secret_key 均不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[key.ID]; exists {
		return fmt.Errorf("%w: %s", ErrKeyExists, key.ID)
	}

	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	m.keys[key.ID] = key
	m.logger.Info("API密钥已添加", zap.String("key_id", key.ID), zap.Bool("testnet", key.Testnet))
	return nil
}

// Key 返回指定凭证的安全视图。
func (m *Manager) Key(id string) (SafeAPIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[id]
	if !ok {
		return SafeAPIKey{}, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	return safeView(key), nil
}

// Keys 返回全部凭证的安全视图，按ID排序。
func (m *Manager) Keys() []SafeAPIKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SafeAPIKey, 0, len(m.keys))
	for _, key := range m.keys {
		out = append(out, safeView(key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveKey 删除凭证并丢弃缓存的网关。
func (m *Manager) RemoveKey(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[id]; !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	delete(m.keys, id)
	delete(m.clients, id)
	m.logger.Info("API密钥已删除", zap.String("key_id", id))
	return nil
}

// Gateway 按密钥ID返回交易网关；ID为空时使用默认凭证。
// 凭证缺失或未激活时返回 exchange.ErrUnavailable。
func (m *Manager) Gateway(keyID string) (*exchange.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[keyID]; ok {
		return client, nil
	}

	creds := m.defaults
	if keyID != "" {
		key, ok := m.keys[keyID]
		if !ok {
			return nil, fmt.Errorf("%w: 密钥 %s 不存在", exchange.ErrUnavailable, keyID)
		}
		if !key.Active {
			return nil, fmt.Errorf("%w: 密钥 %s 未激活", exchange.ErrUnavailable, keyID)
		}
		creds = exchange.Credentials{
			APIKey:     key.Key,
			APISecret:  key.Secret,
			UseSandbox: key.Testnet,
		}
	}

	client, err := exchange.NewClient(creds, m.logger)
	if err != nil {
		return nil, err
	}

	m.clients[keyID] = client
	m.logger.Info("交易网关已初始化", zap.String("key_id", displayKeyID(keyID)))
	return client, nil
}

func safeView(key APIKey) SafeAPIKey {
	return SafeAPIKey{
		ID:        key.ID,
		Name:      key.Name,
		Testnet:   key.Testnet,
		Active:    key.Active,
		CreatedAt: key.CreatedAt,
	}
}

func displayKeyID(keyID string) string {
	if keyID == "" {
		return "default"
	}
	return keyID
}
