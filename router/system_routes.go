package router

import "github.com/gin-gonic/gin"

func setSystemRoutes(r *gin.Engine, opts Options) {
	r.GET("/healthz", wrapHTTPFunc(opts.Healthz))
	r.HEAD("/healthz", wrapHTTPFunc(opts.Healthz))

	if opts.Metrics != nil {
		r.GET("/metrics", wrapHTTP(opts.Metrics))
	}
}
