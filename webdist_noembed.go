//go:build !embed_web

package storefront

import "io/fs"

// WebDistFS 为 nil 时前端从 frontend.dist_dir 读取。
var WebDistFS fs.FS
