package extractor

import (
	"strings"

	"golang.org/x/net/html"
)

// CleanHTML 去掉 HTML 标签，只保留 <br> 带来的换行。
// 其它标签视为空格，注释与 script/style 内容丢弃，实体由分词器解码；
// 每一行内的空白（包括源码里的换行）折叠成一个空格。
func CleanHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	var (
		lines []string
		line  strings.Builder
		skip  string
	)
	flush := func() {
		lines = append(lines, strings.Join(strings.Fields(line.String()), " "))
		line.Reset()
	}

	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF 或无法继续分词，保留已解析的部分
			break
		}
		switch tt {
		case html.TextToken:
			if skip == "" {
				line.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case skip != "":
				if tt == html.EndTagToken && tag == skip {
					skip = ""
				}
			case tag == "br":
				flush()
			case (tag == "script" || tag == "style") && tt == html.StartTagToken:
				skip = tag
			default:
				line.WriteByte(' ')
			}
		}
	}
	flush()
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
