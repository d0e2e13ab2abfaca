package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"lotwatch/internal/money"
	urlqueue "lotwatch/internal/url_queue"
)

// Card is one lot as shown on a catalog listing page.
type Card struct {
	URL        string
	Title      string
	Value      string
	Date       string
	Auctioneer string
}

// Hints turns the card into extraction hints for the lot page.
func (c Card) Hints() map[Field]string {
	hints := make(map[Field]string)
	if c.Title != "" {
		hints[FieldTitle] = c.Title
	}
	if c.Value != "" {
		hints[FieldValue] = c.Value
	}
	if c.Date != "" {
		hints[FieldAuctionStart] = c.Date
	}
	if c.Auctioneer != "" {
		hints[FieldAuctioneer] = c.Auctioneer
	}
	return hints
}

var cardKeywords = []string{"product", "item", "card", "peca", "obra", "lote", "grid-item"}

var (
	skipLinks     = []string{"busca", "categoria", "filtro", "pagina", "javascript:", "mailto:"}
	reListingPage = regexp.MustCompile(`/pg\d+`)
)

// Cards collects lot cards under root. accept decides which absolute links
// point to lot pages; a nil accept takes every link that looks like one.
func Cards(root *goquery.Selection, base *url.URL, accept func(string) bool) []Card {
	seen := make(map[string]bool)
	var cards []Card

	root.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link, ok := urlqueue.Resolve(base, href)
		if !ok || seen[link] || !lotLink(link, accept) {
			return
		}
		seen[link] = true

		card := cardOf(a)
		c := Card{URL: link}
		c.Title = firstNonEmpty(attr(a, "title"), textOf(card.Find("h2, h3, h4, .titulo, .title").First()), textOf(a))
		if amounts := money.FindBRL(textOf(card)); len(amounts) > 0 {
			c.Value = "R$ " + amounts[0]
		}
		c.Date = textOf(byClass(card, "span, div, p, small", "data", "date", "countdown", "inicio").First())
		c.Auctioneer = textOf(byClass(card, "span, div, p, small, a", "leiloeiro", "vendedor", "seller").First())
		cards = append(cards, c)
	})
	return cards
}

func lotLink(link string, accept func(string) bool) bool {
	if accept != nil {
		return accept(link)
	}
	lower := strings.ToLower(link)
	if reListingPage.MatchString(lower) {
		return false
	}
	for _, s := range skipLinks {
		if strings.Contains(lower, s) {
			return false
		}
	}
	for _, p := range []string{"peca.asp", "item.asp", "lote", "/belas-artes/", "/quadro", "/pintura", "/escultura"} {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func cardOf(a *goquery.Selection) *goquery.Selection {
	for p := a.Parent(); p.Length() > 0; p = p.Parent() {
		if goquery.NodeName(p) == "body" {
			break
		}
		if classContains(p, cardKeywords...) {
			return p
		}
	}
	return a.Parent()
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return normalizeText(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
