package router

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront/internal/access"
	"storefront/internal/envelope"
	"storefront/internal/objstore"
	"storefront/internal/security"
)

const defaultMaxUploadBytes = 10 << 20

func setImageAPIRoutes(r *gin.RouterGroup, opts Options) {
	r.GET("/images/proxy", imageProxyHandler(opts))
	r.POST("/admin/uploads", requireAccess(opts, access.Admin), uploadHandler(opts))
}

func setUploadRoutes(r *gin.Engine, opts Options) {
	if opts.LocalUploads == nil {
		return
	}
	r.GET("/uploads/*path", serveUploadHandler(opts))
	r.HEAD("/uploads/*path", serveUploadHandler(opts))
}

// imageProxyHandler 把外链图片转存到对象存储后重定向到存储地址。
func imageProxyHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Images == nil {
			envelope.Error(c, msgNotFound, http.StatusNotFound)
			return
		}
		raw := strings.TrimSpace(c.Query("url"))
		if raw == "" {
			envelope.Error(c, "url is required", http.StatusBadRequest)
			return
		}
		target, err := opts.Images.Resolve(c.Request.Context(), raw)
		if err != nil {
			switch {
			case errors.Is(err, security.ErrURLNotAllowed), errors.Is(err, security.ErrPrivateAddr):
				envelope.Error(c, "URL not allowed", http.StatusBadRequest)
			case errors.Is(err, objstore.ErrNotImage):
				envelope.Error(c, "URL is not an image", http.StatusBadRequest)
			case errors.Is(err, objstore.ErrImageTooLarge):
				envelope.Error(c, "Image too large", http.StatusBadRequest)
			case errors.Is(err, objstore.ErrFetchFailed):
				envelope.Error(c, "Failed to fetch image", http.StatusBadGateway)
			default:
				envelope.FromError(c, err)
			}
			return
		}
		c.Header("Cache-Control", "public, max-age=86400")
		c.Redirect(http.StatusFound, target)
	}
}

func uploadHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !checkCSRF(c, opts, c.PostForm("csrfToken")) {
			return
		}
		if opts.Storage == nil {
			envelope.Error(c, "Storage is not configured", http.StatusInternalServerError)
			return
		}
		limit := opts.MaxUploadBytes
		if limit <= 0 {
			limit = defaultMaxUploadBytes
		}
		fh, err := c.FormFile("file")
		if err != nil {
			envelope.Error(c, "file is required", http.StatusBadRequest)
			return
		}
		if fh.Size > limit {
			envelope.Error(c, "File too large", http.StatusBadRequest, map[string]any{"maxBytes": limit})
			return
		}
		f, err := fh.Open()
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		defer f.Close()

		body, err := io.ReadAll(io.LimitReader(f, limit+1))
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		if int64(len(body)) > limit {
			envelope.Error(c, "File too large", http.StatusBadRequest, map[string]any{"maxBytes": limit})
			return
		}
		ct := http.DetectContentType(body)
		if !objstore.IsRasterImage(ct) {
			envelope.Error(c, "Only image uploads are allowed", http.StatusBadRequest)
			return
		}

		key := "uploads/" + uuid.NewString() + imageExt(ct, fh.Filename)
		url, err := opts.Storage.Put(c.Request.Context(), key, ct, bytes.NewReader(body))
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		audit(c, opts, "upload.created", key, map[string]any{"size": len(body), "contentType": ct})
		envelope.OK(c, gin.H{"url": url, "key": key}, http.StatusCreated)
	}
}

func imageExt(contentType, filename string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return strings.ToLower(path.Ext(filename))
}

func serveUploadHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("path"), "/")
		obj, err := opts.LocalUploads.Get(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, objstore.ErrNotFound) || errors.Is(err, objstore.ErrInvalidKey) {
				envelope.Error(c, msgNotFound, http.StatusNotFound)
				return
			}
			envelope.FromError(c, err)
			return
		}
		defer obj.Body.Close()

		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		c.Header("X-Content-Type-Options", "nosniff")
		if c.Request.Method == http.MethodHead {
			c.Header("Content-Type", obj.ContentType)
			c.Header("Content-Length", strconv.FormatInt(obj.Size, 10))
			c.Status(http.StatusOK)
			return
		}
		c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, obj.Body, nil)
	}
}
