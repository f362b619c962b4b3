package email

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"edusync/pkg/notifier"
)

var priorityColors = map[notifier.Priority]string{
	notifier.PriorityUrgent: "#c0392b",
	notifier.PriorityHigh:   "#e67e22",
	notifier.PriorityMedium: "#2980b9",
	notifier.PriorityLow:    "#7f8c8d",
}

func (s *Sender) formatNotificationBody(n notifier.Notification) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".badge { display: inline-block; padding: 2px 10px; border-radius: 12px; color: #fff; font-size: 0.85em; font-weight: 600; }\n")
	b.WriteString(".content { margin: 15px 0; }\n")
	b.WriteString(".alert { background: #f8f9fa; padding: 15px 20px; border-radius: 8px; margin: 15px 0; }\n")
	b.WriteString(".confidence { color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString(".footer { margin-top: 30px; padding-top: 15px; border-top: 1px solid #ddd; font-size: 0.9em; color: #7f8c8d; }\n")
	b.WriteString("a { color: #e67e22; text-decoration: none; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString(".alert { background: #2a2a2a; }\n")
	b.WriteString(".footer { border-top-color: #444; color: #a0a0a0; }\n")
	b.WriteString("a { color: #ff8c42; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	color, ok := priorityColors[n.Priority]
	if !ok {
		color = priorityColors[notifier.PriorityLow]
	}
	b.WriteString(fmt.Sprintf("<span class=\"badge\" style=\"background: %s\">%s</span>\n", color, html.EscapeString(string(n.Priority))))
	b.WriteString(fmt.Sprintf("<h2>%s</h2>\n", html.EscapeString(plainText(n.Title))))

	b.WriteString("<div class=\"content\">\n")
	b.WriteString(sanitizeHTML(n.Message))
	b.WriteString("\n</div>\n")

	if n.Type == notifier.TypeIntelligentAlert {
		if a, err := notifier.AlertFromNotification(n); err == nil {
			writeAlert(&b, a)
		}
	}

	b.WriteString("<div class=\"footer\">\n")
	dashboard := fmt.Sprintf("%s/api/recipients/%s/notifications", s.baseURL, url.PathEscape(n.RecipientID))
	b.WriteString(fmt.Sprintf("<a href=\"%s\">Open notifications</a>\n", html.EscapeString(dashboard)))
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")
	return b.String()
}

func writeAlert(b *strings.Builder, a notifier.Alert) {
	b.WriteString("<div class=\"alert\">\n")
	b.WriteString(fmt.Sprintf("<p class=\"confidence\">Confidence: %d%%</p>\n", a.Confidence))
	if len(a.Recommendations) > 0 {
		b.WriteString("<p><strong>Recommendations</strong></p>\n<ul>\n")
		for _, r := range a.Recommendations {
			b.WriteString(fmt.Sprintf("<li>%s</li>\n", html.EscapeString(r)))
		}
		b.WriteString("</ul>\n")
	}
	if len(a.Actions) > 0 {
		b.WriteString("<p><strong>Suggested actions</strong></p>\n<ul>\n")
		for _, act := range a.Actions {
			b.WriteString(fmt.Sprintf("<li>%s (%s)</li>\n", html.EscapeString(act.Label), html.EscapeString(string(act.Kind))))
		}
		b.WriteString("</ul>\n")
	}
	b.WriteString("</div>\n")
}

var allowedTags = map[string]bool{
	"p":          true,
	"br":         true,
	"b":          true,
	"strong":     true,
	"i":          true,
	"em":         true,
	"u":          true,
	"blockquote": true,
	"a":          true,
	"ul":         true,
	"ol":         true,
	"li":         true,
	"div":        true,
	"span":       true,
}

// Dropped together with their content.
var droppedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"iframe":   true,
	"object":   true,
	"embed":    true,
	"form":     true,
	"textarea": true,
	"select":   true,
}

// sanitizeHTML renders untrusted markup through a strict allowlist. Text is
// escaped, unknown tags are unwrapped, and only http(s) or relative hrefs
// survive on links.
func sanitizeHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return html.EscapeString(s)
	}

	var b strings.Builder
	doc.Find("body").Contents().Each(func(_ int, sel *goquery.Selection) {
		for _, n := range sel.Nodes {
			renderNode(&b, n)
		}
	})
	return strings.TrimSpace(b.String())
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(html.EscapeString(n.Data))
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if droppedTags[tag] {
			return
		}
		if !allowedTags[tag] {
			renderChildren(b, n)
			return
		}

		b.WriteString("<" + tag)
		if tag == "a" {
			if href := attr(n, "href"); href != "" && isSafeURL(href) {
				b.WriteString(` href="`)
				b.WriteString(html.EscapeString(href))
				b.WriteString(`"`)
			}
		}
		b.WriteString(">")
		if tag == "br" {
			return
		}
		renderChildren(b, n)
		b.WriteString("</" + tag + ">")
	}
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(b, c)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// plainText strips all markup, for subjects and headings.
func plainText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// isSafeURL reports whether a link target is http, https or relative.
func isSafeURL(urlStr string) bool {
	urlStr = strings.TrimSpace(strings.ToLower(urlStr))

	for _, protocol := range []string{"javascript:", "data:", "vbscript:", "file:", "about:"} {
		if strings.HasPrefix(urlStr, protocol) {
			return false
		}
	}

	return strings.HasPrefix(urlStr, "http://") ||
		strings.HasPrefix(urlStr, "https://") ||
		strings.HasPrefix(urlStr, "/") ||
		strings.HasPrefix(urlStr, "./") ||
		strings.HasPrefix(urlStr, "../") ||
		(!strings.Contains(urlStr, ":") && len(urlStr) > 0)
}
