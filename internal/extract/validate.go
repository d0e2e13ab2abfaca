package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"lotwatch/internal/lifecycle"
	"lotwatch/internal/models"
	"lotwatch/internal/money"
)

// Validator accepts a raw candidate and returns the value to store.
type Validator func(candidate string, c Context) (string, bool)

var titleDenylist = []string{
	"belas artes", "utilizamos", "cookies", "política", "privacidade", "termos",
	"condições", "sobre", "contato", "home", "início", "menu", "navegação",
	"buscar", "pesquisar", "login", "cadastro", "apóiam", "apoiam", "institutos",
	"leilão", "leilões", "lote", "lot", "quadros", "esculturas", "arte africana",
	"arte brasileira", "ficha técnica", "valor atual", "seu lance", "lançar",
}

var (
	reDigits      = regexp.MustCompile(`^\d+$`)
	reFirstNumber = regexp.MustCompile(`\d+`)
	reCents       = regexp.MustCompile(`^(?:\d{1,3}(?:\.\d{3})*|\d+),\d{2}$`)

	reAuctioneerLabel = regexp.MustCompile(`(?i)^(?:leiloeir[oa](?:\s+oficial)?|vendedor|escrit[oó]rio)\s*[:\-]?\s*`)
	reLocationLabel   = regexp.MustCompile(`(?i)^(?:local(?:iza[cç][aã]o)?|cidade|endere[cç]o)\s*[:\-]?\s*`)
	reArtistLabel     = regexp.MustCompile(`(?i)^(?:artista|autor(?:ia)?)\s*[:\-]?\s*`)
)

func denylisted(lower string) bool {
	for _, d := range titleDenylist {
		if !strings.HasPrefix(lower, d) {
			continue
		}
		rest := lower[len(d):]
		if rest == "" {
			return true
		}
		if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func alphaTokens(s string, minLen int) int {
	n := 0
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		if utf8.RuneCountInString(tok) <= minLen {
			continue
		}
		alpha := true
		for _, r := range tok {
			if !unicode.IsLetter(r) {
				alpha = false
				break
			}
		}
		if alpha {
			n++
		}
	}
	return n
}

func validTitle(candidate string, _ Context) (string, bool) {
	t := normalizeText(candidate)
	if utf8.RuneCountInString(t) < 10 || utf8.RuneCountInString(t) > 300 {
		return "", false
	}
	if denylisted(strings.ToLower(t)) {
		return "", false
	}
	if alphaTokens(t, 3) < 2 {
		return "", false
	}
	return t, true
}

func validDescription(candidate string, _ Context) (string, bool) {
	t := normalizeText(candidate)
	if utf8.RuneCountInString(t) <= 20 {
		return "", false
	}
	lower := strings.ToLower(t)
	if strings.Contains(lower, "cookies") || strings.Contains(lower, "utilizamos") {
		return "", false
	}
	if r := []rune(t); len(r) > 2000 {
		t = string(r[:2000])
	}
	return t, true
}

// validValue returns the printed amount without the currency symbol. Plain
// numbers are only trusted when they carry cents.
func validValue(candidate string, _ Context) (string, bool) {
	amounts := money.FindBRL(candidate)
	if len(amounts) == 0 {
		plain := strings.TrimSpace(candidate)
		if !reCents.MatchString(plain) {
			return "", false
		}
		amounts = []string{plain}
	}
	for _, a := range amounts {
		if _, err := money.ParsePositive(a); err == nil {
			return a, true
		}
	}
	return "", false
}

func validNumber(candidate string, _ Context) (string, bool) {
	t := strings.TrimSpace(candidate)
	if !reDigits.MatchString(t) || len(t) > 9 {
		return "", false
	}
	return t, true
}

func validDate(candidate string, c Context) (string, bool) {
	return lifecycle.Normalize(candidate, c.ExtractedAt, c.Location)
}

func validName(label *regexp.Regexp) Validator {
	return func(candidate string, _ Context) (string, bool) {
		t := normalizeText(candidate)
		t = strings.TrimSpace(label.ReplaceAllString(t, ""))
		n := utf8.RuneCountInString(t)
		if n <= 3 || n >= 100 || reDigits.MatchString(t) || strings.Contains(t, "R$") {
			return "", false
		}
		if alphaTokens(t, 1) == 0 {
			return "", false
		}
		return t, true
	}
}

func validArtist(candidate string, c Context) (string, bool) {
	t, ok := validName(reArtistLabel)(candidate, c)
	if !ok {
		return "", false
	}
	if utf8.RuneCountInString(t) > 80 || len(strings.Fields(t)) > 8 || denylisted(strings.ToLower(t)) {
		return "", false
	}
	return t, true
}

const (
	StatusSold      = models.LotSold
	StatusClosed    = models.LotClosed
	StatusReserved  = models.LotReserved
	StatusAvailable = models.LotAvailable
)

var statusKeywords = []struct {
	status   string
	keywords []string
}{
	{StatusSold, []string{"vendido", "arrematado", "sold"}},
	{StatusClosed, []string{"encerrado", "finalizado", "fechado", "closed"}},
	{StatusReserved, []string{"reservado", "condicional", "reserved"}},
	{StatusAvailable, []string{"disponível", "disponivel", "aberto para lances", "em andamento", "available"}},
}

func validStatus(candidate string, _ Context) (string, bool) {
	lower := strings.ToLower(candidate)
	for _, group := range statusKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.status, true
			}
		}
	}
	return "", false
}
