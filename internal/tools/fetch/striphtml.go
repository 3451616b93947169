package fetch

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// stripHTML is the fallback text extractor used when readability finds no
// article content, and the flattening pass renderMarkdown applies to
// goldmark's output. Ported from ingest/extractor.go's StripHTML: a single
// pass tracking tag/script/style state, decoding entities as they're found,
// followed by a whitespace collapse. The teacher's named-entity table is
// reduced here to the handful that appear in real markup.
func stripHTML(content string) string {
	var result strings.Builder
	result.Grow(len(content))

	inTag := false
	inScript := false
	inStyle := false
	var tagName strings.Builder
	collectingTagName := false

	i := 0
	for i < len(content) {
		r, size := utf8.DecodeRuneInString(content[i:])

		if r == '<' {
			inTag = true
			tagName.Reset()
			collectingTagName = true
			i += size
			continue
		}

		if inTag {
			if collectingTagName {
				if unicode.IsSpace(r) || r == '>' || (r == '/' && tagName.Len() > 0) {
					collectingTagName = false
					lower := strings.ToLower(tagName.String())
					switch lower {
					case "script":
						inScript = true
					case "/script":
						inScript = false
					case "style":
						inStyle = true
					case "/style":
						inStyle = false
					}
					if isBlockTag(lower) {
						result.WriteByte('\n')
					}
				} else {
					tagName.WriteRune(r)
				}
			}
			if r == '>' {
				inTag = false
			}
			i += size
			continue
		}

		if inScript || inStyle {
			i += size
			continue
		}

		if r == '&' {
			if decoded, skip := decodeEntity(content, i); skip > 0 {
				result.WriteString(decoded)
				i += skip
				continue
			}
		}

		result.WriteRune(r)
		i += size
	}

	return collapseWhitespace(result.String())
}

func isBlockTag(tag string) bool {
	tag = strings.TrimPrefix(tag, "/")
	switch tag {
	case "p", "div", "br", "hr", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "ul", "ol", "table", "tr", "blockquote", "pre",
		"section", "article", "header", "footer", "nav", "main":
		return true
	}
	return false
}

var namedEntities = map[string]string{
	"&amp;": "&", "&lt;": "<", "&gt;": ">", "&quot;": `"`, "&apos;": "'",
	"&nbsp;": " ", "&mdash;": "—", "&ndash;": "–", "&hellip;": "…",
}

func decodeEntity(content string, start int) (string, int) {
	if content[start] != '&' {
		return "", 0
	}
	end := start + 12
	if end > len(content) {
		end = len(content)
	}
	for j := start + 1; j < end; j++ {
		if content[j] != ';' {
			continue
		}
		entity := content[start : j+1]
		consumed := j - start + 1
		if decoded, ok := namedEntities[entity]; ok {
			return decoded, consumed
		}
		if len(entity) > 3 && entity[1] == '#' {
			inner := entity[2 : len(entity)-1]
			var codepoint int64
			var err error
			if len(inner) > 0 && (inner[0] == 'x' || inner[0] == 'X') {
				codepoint, err = strconv.ParseInt(inner[1:], 16, 32)
			} else {
				codepoint, err = strconv.ParseInt(inner, 10, 32)
			}
			if err == nil {
				return string(rune(codepoint)), consumed
			}
		}
		return "", 0
	}
	return "", 0
}

func collapseWhitespace(text string) string {
	var result strings.Builder
	lines := strings.Split(text, "\n")
	emptyCount := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if result.Len() > 0 {
				emptyCount++
			}
		} else {
			if emptyCount > 0 {
				result.WriteByte('\n')
				if emptyCount > 1 {
					result.WriteByte('\n')
				}
			} else if result.Len() > 0 {
				result.WriteByte('\n')
			}
			result.WriteString(trimmed)
			emptyCount = 0
		}
	}

	return strings.TrimSpace(result.String())
}
