//go:build embed_web

package storefront

import (
	"embed"
	"io/fs"
)

//go:embed web/dist
var webDist embed.FS

// WebDistFS 在 embed_web 构建下内嵌前端产物；构建前需先生成 web/dist。
var WebDistFS fs.FS = webDist
