package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

// Handle 注册路由，并记录请求指标
func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.Handle(pattern, withMetrics(pattern, h))
}

// HandleHandler 支持 http.Handler 接口（/metrics 等，不计入请求指标）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterSigningRoutes 签署确认相关路由
func (r *Router) RegisterSigningRoutes(reconcile *ReconcileHandler, webhook *WebhookHandler) {
	r.Handle("/api/v1/agreements/reconcile", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reconcile.Reconcile(w, req)
	})

	if webhook != nil {
		r.Handle("/api/v1/webhooks/docusign", func(w http.ResponseWriter, req *http.Request) {
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			webhook.DocusignConnect(w, req)
		})
	}
}

// RegisterOpsRoutes 健康检查与 Prometheus 指标
func (r *Router) RegisterOpsRoutes() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.HandleHandler("/metrics", promhttp.Handler())
}
