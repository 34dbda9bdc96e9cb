// Package htmlsafe 把商品描述等富文本收敛到白名单标签，避免存储型 XSS。
package htmlsafe

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var allowedTags = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.Strong: true, atom.B: true, atom.Em: true, atom.I: true,
	atom.U: true, atom.Ul: true, atom.Ol: true, atom.Li: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.A: true, atom.Blockquote: true, atom.Span: true,
}

// 这些标签连同内容一起丢弃。
var droppedTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true, atom.Object: true,
	atom.Embed: true, atom.Template: true, atom.Noscript: true,
}

// Sanitize 返回只包含白名单标签的 HTML；解析失败时退化为纯文本转义。
func Sanitize(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(in), ctx)
	if err != nil {
		return html.EscapeString(in)
	}
	var b strings.Builder
	for _, n := range nodes {
		render(&b, n)
	}
	return strings.TrimSpace(b.String())
}

func render(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(html.EscapeString(n.Data))
		return
	case html.ElementNode:
	default:
		return
	}

	if droppedTags[n.DataAtom] {
		return
	}
	if !allowedTags[n.DataAtom] {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			render(b, c)
		}
		return
	}

	b.WriteByte('<')
	b.WriteString(n.Data)
	if n.DataAtom == atom.A {
		if href, ok := safeHref(n); ok {
			b.WriteString(` href="`)
			b.WriteString(html.EscapeString(href))
			b.WriteString(`" rel="nofollow noopener"`)
		}
	}
	b.WriteByte('>')
	if n.DataAtom == atom.Br {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(b, c)
	}
	b.WriteString("</")
	b.WriteString(n.Data)
	b.WriteByte('>')
}

func safeHref(n *html.Node) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace != "" || !strings.EqualFold(a.Key, "href") {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(a.Val))
		if err != nil {
			return "", false
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "mailto":
			return u.String(), true
		}
		return "", false
	}
	return "", false
}

// StripTags 只保留文本内容（用于摘要/搜索）。
func StripTags(in string) string {
	nodes, err := html.ParseFragment(strings.NewReader(in), &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
	if err != nil {
		return in
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && droppedTags[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
