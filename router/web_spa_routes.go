package router

import (
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"storefront/internal/envelope"
)

func setWebSPARoutes(r *gin.Engine, opts Options) {
	frontendBaseURL := strings.TrimRight(strings.TrimSpace(opts.FrontendBaseURL), "/")
	if frontendBaseURL != "" {
		r.NoRoute(func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, frontendBaseURL+c.Request.RequestURI)
		})
		return
	}

	// 页面守卫必须先于静态文件注册，受保护页面的资源也要经过会话探测。
	r.Use(pageGuard(opts))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	if opts.FrontendFS != nil {
		if sub, err := fs.Sub(opts.FrontendFS, "web/dist"); err == nil {
			r.Use(static.Serve("/", &embedFileSystem{FileSystem: http.FS(sub)}))
		}
	} else if distDir := strings.TrimSpace(opts.FrontendDistDir); distDir != "" {
		r.Use(static.Serve("/", &hideRootFileSystem{ServeFileSystem: static.LocalFile(distDir, false)}))
	}

	indexPage := opts.FrontendIndexPage
	if len(indexPage) == 0 {
		indexPage = defaultIndexPage()
	}

	r.NoRoute(func(c *gin.Context) {
		if isAPIPrefix(c.Request.URL.Path) {
			envelope.Error(c, msgNotFound, http.StatusNotFound)
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
	})
}

// embedFileSystem 把 embed.FS 子目录包装成 static.ServeFileSystem，目录根交给 NoRoute 返回 index。
type embedFileSystem struct {
	http.FileSystem
}

func (e *embedFileSystem) Exists(prefix string, p string) bool {
	_, err := e.Open(p)
	return err == nil
}

func (e *embedFileSystem) Open(name string) (http.File, error) {
	if name == "/" {
		return nil, os.ErrNotExist
	}
	return e.FileSystem.Open(name)
}

type hideRootFileSystem struct {
	static.ServeFileSystem
}

func (h *hideRootFileSystem) Exists(prefix string, p string) bool {
	if strings.TrimSpace(p) == "" || p == "/" {
		return false
	}
	return h.ServeFileSystem.Exists(prefix, p)
}

func (h *hideRootFileSystem) Open(name string) (http.File, error) {
	if name == "/" {
		return nil, os.ErrNotExist
	}
	return h.ServeFileSystem.Open(name)
}

func isAPIPrefix(p string) bool {
	p = strings.TrimSpace(p)
	switch {
	case hasPathPrefix(p, "/api"):
		return true
	case hasPathPrefix(p, "/uploads"):
		return true
	case p == "/healthz", p == "/metrics":
		return true
	default:
		return false
	}
}

func hasPathPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func defaultIndexPage() []byte {
	return []byte(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Storefront</title>
  </head>
  <body>
    <div style="font-family: system-ui, -apple-system, Segoe UI, Roboto, sans-serif; max-width: 720px; margin: 40px auto; padding: 0 16px;">
      <h1 style="margin: 0 0 12px;">Storefront</h1>
      <p style="margin: 0 0 12px;">The web bundle was not found (default path: <code>web/dist</code>).</p>
      <p style="margin: 0;">Build the frontend and restart the server.</p>
    </div>
  </body>
</html>`)
}
