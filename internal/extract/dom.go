package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var reWhitespace = regexp.MustCompile(`\s+`)

func normalizeText(text string) string {
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func textOf(s *goquery.Selection) string {
	return normalizeText(s.Text())
}

// ownText joins the text nodes directly under the first node of s, skipping
// nested elements.
func ownText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	var b strings.Builder
	for c := s.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
	}
	return normalizeText(b.String())
}

func classContains(s *goquery.Selection, keywords ...string) bool {
	class, ok := s.Attr("class")
	if !ok || class == "" {
		return false
	}
	class = strings.ToLower(class)
	for _, kw := range keywords {
		if strings.Contains(class, kw) {
			return true
		}
	}
	return false
}

// byClass selects elements matching selector whose class attribute contains
// any keyword, case-insensitively.
func byClass(root *goquery.Selection, selector string, keywords ...string) *goquery.Selection {
	return root.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return classContains(s, keywords...)
	})
}

var chromeKeywords = []string{"sidebar", "menu", "rodape", "footer", "banner", "newsletter"}

// inChrome reports whether s sits in page furniture rather than the lot body.
func inChrome(s *goquery.Selection) bool {
	if s.Closest("aside, nav, footer").Length() > 0 {
		return true
	}
	return s.ParentsFiltered("*").FilterFunction(func(_ int, p *goquery.Selection) bool {
		return classContains(p, chromeKeywords...)
	}).Length() > 0
}

func texts(s *goquery.Selection) []string {
	var out []string
	s.Each(func(_ int, el *goquery.Selection) {
		if inChrome(el) {
			return
		}
		if t := textOf(el); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func attrs(s *goquery.Selection, names ...string) []string {
	var out []string
	s.Each(func(_ int, el *goquery.Selection) {
		for _, n := range names {
			if v, ok := el.Attr(n); ok && strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
			}
		}
	})
	return out
}

// labelled finds elements whose own text matches label and yields, in order,
// that text, the next sibling's text and the parent's text.
func labelled(doc *goquery.Document, label *regexp.Regexp) []string {
	var out []string
	doc.Find("body *").Each(func(_ int, el *goquery.Selection) {
		own := ownText(el)
		if own == "" || !label.MatchString(own) || inChrome(el) {
			return
		}
		out = append(out, own)
		if next := textOf(el.Next()); next != "" {
			out = append(out, next)
		}
		if parent := textOf(el.Parent()); parent != "" && parent != own {
			out = append(out, parent)
		}
	})
	return out
}

// tableValues returns the second cell of rows whose first cell matches label.
func tableValues(doc *goquery.Document, label *regexp.Regexp) []string {
	var out []string
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		if label.MatchString(textOf(cells.First())) {
			if v := textOf(cells.Eq(1)); v != "" {
				out = append(out, v)
			}
		}
	})
	return out
}

// mainText is the body text with page furniture and scripts removed.
func mainText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		return textOf(doc.Selection)
	}
	clone := body.Clone()
	clone.Find("aside, nav, footer, script, style, noscript").Remove()
	clone.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return classContains(s, chromeKeywords...)
	}).Remove()
	return textOf(clone)
}

func submatches(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if len(m) > 1 {
			out = append(out, m[1])
		} else {
			out = append(out, m[0])
		}
	}
	return out
}

func eachSubmatch(re *regexp.Regexp, candidates []string) []string {
	var out []string
	for _, c := range candidates {
		out = append(out, submatches(re, c)...)
	}
	return out
}
