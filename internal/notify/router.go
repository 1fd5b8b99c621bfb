package notify

import (
	"strings"

	"relay-trader/internal/config"
)

// DefaultRouteName 为兜底路由的名称。
const DefaultRouteName = "default"

// Router 按消息内容中的关键字选择转发目标，未命中时使用默认地址。
// 路由按配置顺序匹配，第一条命中的规则生效。
type Router struct {
	defaultURL string
	routes     []config.RouteConfig
}

// NewRouter 根据配置构造路由器。
func NewRouter(cfg config.NotifyConfig) *Router {
	return &Router{
		defaultURL: cfg.DefaultURL,
		routes:     cfg.Routes,
	}
}

// Resolve 返回命中的路由名称与webhook地址。
func (r *Router) Resolve(content string) (string, string) {
	for _, route := range r.routes {
		for _, keyword := range route.Match {
			if keyword != "" && strings.Contains(content, keyword) {
				return route.Name, route.URL
			}
		}
	}
	return DefaultRouteName, r.defaultURL
}
