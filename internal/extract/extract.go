package extract

import (
    "bytes"
    "strings"

    "golang.org/x/net/html"
)

// Document is a simplified representation of extracted page content.
type Document struct {
    Title string
    Text  string
}

// documentSkip lists containers dropped when extracting a document body.
var documentSkip = map[string]bool{
    "script": true, "style": true, "noscript": true, "nav": true,
    "footer": true, "aside": true, "iframe": true,
}

// pageSkip extends documentSkip with the chrome removed from portal pages.
var pageSkip = map[string]bool{
    "script": true, "style": true, "noscript": true, "nav": true,
    "footer": true, "aside": true, "iframe": true, "header": true, "form": true,
}

// FromHTML extracts readable text from HTML, preferring <main> or <article>,
// falling back to <body>. Headings, paragraphs, list items and pre/code blocks
// keep their line structure; paragraphs are separated by a blank line.
func FromHTML(input []byte) Document {
    root, err := html.Parse(bytes.NewReader(input))
    if err != nil || root == nil {
        return Document{}
    }
    content := findFirst(root, "main")
    if content == nil {
        content = findFirst(root, "article")
    }
    if content == nil {
        content = findFirst(root, "body")
    }
    var b strings.Builder
    if content != nil {
        w := walker{out: &b, skip: documentSkip}
        w.walk(content, false)
    }
    return Document{Title: strings.TrimSpace(findTitle(root)), Text: tidyLines(b.String())}
}

// PageText flattens a whole HTML page into a single line of text, dropping
// scripts, navigation, headers, footers and forms.
func PageText(input []byte) string {
    root, err := html.Parse(bytes.NewReader(input))
    if err != nil || root == nil {
        return ""
    }
    var b strings.Builder
    w := walker{out: &b, skip: pageSkip}
    w.walk(root, false)
    return strings.Join(strings.Fields(b.String()), " ")
}

func findTitle(n *html.Node) string {
    head := findFirst(n, "head")
    if head == nil {
        return ""
    }
    t := findFirst(head, "title")
    if t == nil || t.FirstChild == nil {
        return ""
    }
    return t.FirstChild.Data
}

func findFirst(n *html.Node, tag string) *html.Node {
    if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
        return n
    }
    for c := n.FirstChild; c != nil; c = c.NextSibling {
        if found := findFirst(c, tag); found != nil {
            return found
        }
    }
    return nil
}

type walker struct {
    out  *strings.Builder
    skip map[string]bool
}

func (w walker) walk(n *html.Node, inPre bool) {
    var name string
    if n.Type == html.ElementNode {
        if isConsentBanner(n) {
            return
        }
        name = strings.ToLower(n.Data)
        if w.skip[name] {
            return
        }
        switch name {
        case "pre", "code":
            inPre = true
        case "br", "hr", "ul", "ol", "li", "p", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
            w.out.WriteString("\n")
        case "td", "th":
            w.out.WriteString(" ")
        }
    }

    if n.Type == html.TextNode {
        data := n.Data
        if !inPre {
            data = strings.NewReplacer("\t", " ", "\r", " ").Replace(data)
        }
        w.out.WriteString(data)
    }

    for c := n.FirstChild; c != nil; c = c.NextSibling {
        w.walk(c, inPre)
    }

    switch name {
    case "p", "h1", "h2", "h3", "h4", "h5", "h6", "table":
        w.out.WriteString("\n\n")
    case "li", "pre", "code", "tr":
        w.out.WriteString("\n")
    }
}

// isConsentBanner reports whether the element carries cookie/consent markers
// in its id, class, role, aria-label or data-* attributes.
func isConsentBanner(n *html.Node) bool {
    for _, attr := range n.Attr {
        key := strings.ToLower(attr.Key)
        if key != "id" && key != "class" && key != "role" && key != "aria-label" && !strings.HasPrefix(key, "data-") {
            continue
        }
        val := strings.ToLower(attr.Val)
        for _, marker := range []string{"cookie", "consent", "gdpr"} {
            if strings.Contains(val, marker) {
                return true
            }
        }
    }
    return false
}

// tidyLines trims each line, collapses inner space runs and keeps at most one
// blank line between paragraphs. Markup indentation would otherwise survive
// as leading spaces on every line.
func tidyLines(s string) string {
    in := strings.Split(s, "\n")
    out := make([]string, 0, len(in))
    for _, line := range in {
        line = strings.Join(strings.Fields(line), " ")
        if line == "" && (len(out) == 0 || out[len(out)-1] == "") {
            continue
        }
        out = append(out, line)
    }
    for len(out) > 0 && out[len(out)-1] == "" {
        out = out[:len(out)-1]
    }
    return strings.Join(out, "\n")
}
