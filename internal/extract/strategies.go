package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"lotwatch/internal/lifecycle"
	"lotwatch/internal/money"
)

var (
	reCurrentLabel = regexp.MustCompile(`(?i)valor\s+atual|lance\s+atual|lance\s+vencedor`)
	reSaleLabel    = regexp.MustCompile(`(?i)valor\s+de\s+venda|lance\s+inicial|lance\s+m[ií]nimo|avalia[cç][aã]o`)
	reBidSummary   = regexp.MustCompile(`(?i)valor\s+atual\s*\(\s*(\d+)\s*lance\(s\)\s*\)\s*R\$\s*[\d.,]+`)

	reLanceCount  = regexp.MustCompile(`(?i)(\d+)\s*lance\(s\)`)
	reLancesAfter = regexp.MustCompile(`(?i)(\d+)\s*lances?\b`)
	reLancesLabel = regexp.MustCompile(`(?i)lances?\s*[:\-]\s*(\d+)`)

	reLotNumber = regexp.MustCompile(`(?i)\blote\s*(?:n[º°o.]?\s*)?[:#\-]?\s*(\d+)`)
	reLotLabel  = regexp.MustCompile(`(?i)^\s*lote\b`)

	reStartLabel = regexp.MustCompile(`(?i)este\s+leil[aã]o\s+come[cç]a\s+em|come[cç]a\s+em|in[ií]cio\s+do\s+leil[aã]o|abertura`)
	reSchedule   = regexp.MustCompile(`(?i)dia\s+do\s+leil[aã]o|data\s+do\s+leil[aã]o|in[ií]cio|hor[aá]rio|\bdata\b`)
	reEndLabel   = regexp.MustCompile(`(?i)encerramento|t[eé]rmino|fim\s+do\s+leil[aã]o|data\s+final|[uú]ltimo\s+dia|termina\s+em|encerra\s+em`)

	reAuctioneerKey = regexp.MustCompile(`(?i)leiloeir[oa]|escrit[oó]rio|vendedor`)
	reLocationKey   = regexp.MustCompile(`(?i)^\s*(?:local(?:iza[cç][aã]o)?|cidade|endere[cç]o)\b`)
	reCityUF        = regexp.MustCompile(`\b(\p{Lu}[\p{L}]+(?:\s(?:de|do|da|dos|das|\p{Lu}[\p{L}]+))*\s*[-/]\s*(?:AC|AL|AP|AM|BA|CE|DF|ES|GO|MA|MT|MS|MG|PA|PB|PR|PE|PI|RJ|RN|RS|RO|RR|SC|SP|SE|TO))\b`)

	reVisitsAfter = regexp.MustCompile(`(?i)(\d+)\s*(?:visitas?|visualiza[cç][oõ]es)`)
	reVisitsLabel = regexp.MustCompile(`(?i)visitas?\s*[:\-]?\s*(\d+)`)

	reStatusWord  = regexp.MustCompile(`(?i)vendid[oa]|arrematad[oa]|encerrad[oa]|finalizad[oa]|reservad[oa]|dispon[ií]vel`)
	reArtistKey   = regexp.MustCompile(`(?i)^\s*(?:artista|autor(?:ia)?)\b`)
	reTitleSplits = regexp.MustCompile(`\s+[-|–]\s+`)
)

func defaultChains() map[Field]chain {
	return map[Field]chain{
		FieldTitle:        {titleStrategies, validTitle},
		FieldDescription:  {descriptionStrategies, validDescription},
		FieldArtist:       {artistStrategies, validArtist},
		FieldValue:        {valueStrategies, validValue},
		FieldBidCount:     {bidCountStrategies, validNumber},
		FieldLotNumber:    {lotNumberStrategies, validNumber},
		FieldAuctionStart: {startStrategies, validDate},
		FieldAuctionEnd:   {endStrategies, validDate},
		FieldAuctioneer:   {auctioneerStrategies, validName(reAuctioneerLabel)},
		FieldLocation:     {locationStrategies, validName(reLocationLabel)},
		FieldVisitCount:   {visitStrategies, validNumber},
		FieldLotStatus:    {statusStrategies, validStatus},
	}
}

func find(selector string) func(*goquery.Document, Context) []string {
	return func(doc *goquery.Document, _ Context) []string {
		return texts(doc.Find(selector))
	}
}

func classed(selector string, keywords ...string) func(*goquery.Document, Context) []string {
	return func(doc *goquery.Document, _ Context) []string {
		return texts(byClass(doc.Selection, selector, keywords...))
	}
}

func meta(selector string) func(*goquery.Document, Context) []string {
	return func(doc *goquery.Document, _ Context) []string {
		return attrs(doc.Find(selector), "content")
	}
}

func label(re *regexp.Regexp) func(*goquery.Document, Context) []string {
	return func(doc *goquery.Document, _ Context) []string {
		return labelled(doc, re)
	}
}

func table(re *regexp.Regexp) func(*goquery.Document, Context) []string {
	return func(doc *goquery.Document, _ Context) []string {
		return tableValues(doc, re)
	}
}

func fullText(re *regexp.Regexp) func(*goquery.Document, Context) []string {
	return func(doc *goquery.Document, _ Context) []string {
		return submatches(re, mainText(doc))
	}
}

// numbersIn narrows the candidates of inner to the numbers re captures.
func numbersIn(re *regexp.Regexp, inner func(*goquery.Document, Context) []string) func(*goquery.Document, Context) []string {
	return func(doc *goquery.Document, c Context) []string {
		return eachSubmatch(re, inner(doc, c))
	}
}

func documentTitle(doc *goquery.Document, _ Context) []string {
	title := textOf(doc.Find("head title").First())
	if title == "" {
		return nil
	}
	return append([]string{title}, reTitleSplits.Split(title, -1)...)
}

func readable(doc *goquery.Document, c Context) (readability.Article, bool) {
	raw, err := doc.Html()
	if err != nil {
		return readability.Article{}, false
	}
	pageURL, err := url.Parse(c.URL)
	if err != nil || c.URL == "" {
		pageURL = &url.URL{Scheme: "https", Host: "localhost"}
	}
	article, err := readability.FromReader(strings.NewReader(raw), pageURL)
	if err != nil {
		return readability.Article{}, false
	}
	return article, true
}

var titleStrategies = []Strategy{
	{"nome-link", find("div.nome h2 a, div[class*='nome'] h2 a")},
	{"lote-desc", find("div.lote-desc p strong, div.lote-desc p")},
	{"heading-link", find("h2 a")},
	{"title-class", classed("h1, h2, h3, h4, div, span, p", "titulo", "title", "nome-obra", "obra-titulo", "artwork-title", "product-name")},
	{"og-title", meta("meta[property='og:title']")},
	{"heading", find("h1, h2, h3")},
	{"readability", func(doc *goquery.Document, c Context) []string {
		if a, ok := readable(doc, c); ok {
			return []string{a.Title}
		}
		return nil
	}},
	{"document-title", documentTitle},
}

var descriptionStrategies = []Strategy{
	{"meta-description", meta("meta[name='description']")},
	{"og-description", meta("meta[property='og:description']")},
	{"description-class", classed("div, p, span, section", "descricao", "description", "is-pecadesc", "lote-desc", "detalhe")},
	{"readability", func(doc *goquery.Document, c Context) []string {
		if a, ok := readable(doc, c); ok {
			return []string{a.Excerpt}
		}
		return nil
	}},
}

// titleLike feeds the artist chain the raw texts titles usually come from.
func titleLike(doc *goquery.Document, c Context) []string {
	var raw []string
	for _, s := range titleStrategies[:6] {
		raw = append(raw, run(s, doc, c)...)
	}
	if title := textOf(doc.Find("head title").First()); title != "" {
		raw = append(raw, title)
	}
	var out []string
	for _, t := range raw {
		if i := strings.Index(t, " - "); i > 0 {
			out = append(out, t[:i])
		}
	}
	return out
}

var artistStrategies = []Strategy{
	{"artist-class", classed("span, div, p, a, strong, h3, h4", "artista", "artist", "autor", "author")},
	{"artist-label", label(reArtistKey)},
	{"title-prefix", titleLike},
}

var valueStrategies = []Strategy{
	{"current-label", label(reCurrentLabel)},
	{"bid-summary", func(doc *goquery.Document, _ Context) []string {
		return reBidSummary.FindAllString(mainText(doc), -1)
	}},
	{"price-class", classed("div, span, p, strong, b, td, li", "valor", "price", "preco", "preço", "lance", "venda")},
	{"sale-label", label(reSaleLabel)},
	{"full-text", func(doc *goquery.Document, _ Context) []string {
		var out []string
		for _, a := range money.FindBRL(mainText(doc)) {
			out = append(out, "R$ "+a)
		}
		return out
	}},
}

var bidCountStrategies = []Strategy{
	{"bid-summary", fullText(reLanceCount)},
	{"bid-icon", func(doc *goquery.Document, _ Context) []string {
		icons := byClass(doc.Selection, "i, span, img, svg", "hammer", "martelo", "gavel")
		return eachSubmatch(reFirstNumber, texts(icons.Parent()))
	}},
	{"bid-class", numbersIn(reFirstNumber, classed("span, div, p, strong, b", "lances", "bids", "num-lances", "qtd-lances"))},
	{"bid-text", func(doc *goquery.Document, _ Context) []string {
		text := mainText(doc)
		return append(submatches(reLancesAfter, text), submatches(reLancesLabel, text)...)
	}},
}

var lotNumberStrategies = []Strategy{
	{"nlote", func(doc *goquery.Document, _ Context) []string {
		var out []string
		for _, t := range texts(doc.Find(".nlote")) {
			out = append(out, t)
			out = append(out, submatches(reLotNumber, t)...)
		}
		return out
	}},
	{"lot-class", func(doc *goquery.Document, _ Context) []string {
		var out []string
		for _, t := range texts(byClass(doc.Selection, "div, span, p, strong", "lote", "lot-number", "numero")) {
			out = append(out, t)
			out = append(out, submatches(reLotNumber, t)...)
		}
		return out
	}},
	{"breadcrumb", numbersIn(reLotNumber, classed("nav, ol, ul, div", "breadcrumb", "migalha"))},
	{"document-title", numbersIn(reLotNumber, find("head title"))},
	{"heading", numbersIn(reLotNumber, find("h1, h2, h3, h4"))},
	{"table", table(reLotLabel)},
	{"full-text", fullText(reLotNumber)},
}

var startStrategies = []Strategy{
	{"start-label", label(reStartLabel)},
	{"schedule-label", label(reSchedule)},
	{"countdown-attr", func(doc *goquery.Document, _ Context) []string {
		return attrs(doc.Find("[data-countdown], [data-date], [data-inicio], [data-start]"), "data-countdown", "data-date", "data-inicio", "data-start")
	}},
	{"countdown-class", classed("div, span, p, strong", "countdown", "timer", "contador", "cronometro")},
	{"time-element", func(doc *goquery.Document, _ Context) []string {
		return attrs(doc.Find("time[datetime]"), "datetime")
	}},
	{"date-class", classed("span, div, p, li, strong", "data", "date", "inicio", "horario")},
	{"table", table(reSchedule)},
	{"full-text", func(doc *goquery.Document, _ Context) []string {
		return []string{mainText(doc)}
	}},
}

var endStrategies = []Strategy{
	{"session-days", func(doc *goquery.Document, _ Context) []string {
		if last, ok := lifecycle.LastSessionDay(mainText(doc)); ok {
			return []string{last}
		}
		return nil
	}},
	{"end-label", label(reEndLabel)},
	{"end-attr", func(doc *goquery.Document, _ Context) []string {
		return attrs(doc.Find("[data-end], [data-fim], [data-encerramento]"), "data-end", "data-fim", "data-encerramento")
	}},
	{"end-class", classed("div, span, p, strong, li", "encerra", "termino", "fim-leilao", "end-date", "closing")},
	{"table", table(reEndLabel)},
}

var auctioneerStrategies = []Strategy{
	{"auctioneer-class", classed("div, span, p, a, strong, li", "leiloeiro", "seller", "vendedor", "escritorio", "auctioneer")},
	{"auctioneer-label", label(reAuctioneerKey)},
	{"table", table(reAuctioneerKey)},
}

var locationStrategies = []Strategy{
	{"location-class", classed("div, span, p, li, address", "local", "location", "cidade", "city", "endereco", "endereço")},
	{"location-label", label(reLocationKey)},
	{"city-uf", fullText(reCityUF)},
	{"table", table(reLocationKey)},
}

var visitStrategies = []Strategy{
	{"visit-class", numbersIn(reFirstNumber, classed("div, span, p, strong, small", "visita", "visit", "views", "view-count"))},
	{"visit-text", func(doc *goquery.Document, _ Context) []string {
		text := mainText(doc)
		return append(submatches(reVisitsAfter, text), submatches(reVisitsLabel, text)...)
	}},
	{"person-icon", func(doc *goquery.Document, _ Context) []string {
		icons := byClass(doc.Selection, "i, span, img, svg", "person", "user", "eye")
		return eachSubmatch(reFirstNumber, texts(icons.Parent()))
	}},
}

var statusContext = []string{"lote", "obra", "peça", "peca", "item"}

var statusStrategies = []Strategy{
	{"status-class", classed("div, span, p, strong, button, a, label", "status", "situacao", "situação", "vendido", "arrematado", "sold")},
	{"status-text", func(doc *goquery.Document, _ Context) []string {
		text := mainText(doc)
		var out []string
		for _, loc := range reStatusWord.FindAllStringIndex(text, -1) {
			window := strings.ToLower(text[max(0, loc[0]-60):min(len(text), loc[1]+60)])
			for _, word := range statusContext {
				if strings.Contains(window, word) {
					out = append(out, text[loc[0]:loc[1]])
					break
				}
			}
		}
		return out
	}},
}
