package extract

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"lotwatch/internal/models"
	"lotwatch/internal/money"
)

var extractedAt = time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)

func loadFixture(t *testing.T, name string) *goquery.Document {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

func testContext() Context {
	return Context{URL: "https://www.iarremate.com/belas-artes/lote-42", ExtractedAt: extractedAt, Location: time.UTC}
}

func TestValueIgnoresSidebarDecoy(t *testing.T) {
	e := New()
	for _, name := range []string{"lot_iarremate.html", "decoy_sidebar.html"} {
		doc := loadFixture(t, name)
		res := e.Extract(FieldValue, doc, testContext())
		require.True(t, res.Known(), name)

		amount, err := money.Parse(res.Value)
		require.NoError(t, err)
		require.True(t, decimal.RequireFromString("1234.56").Equal(amount), "%s: %s", name, res.Value)
	}
}

func TestExtractAllIArremate(t *testing.T) {
	rec := New().ExtractAll(loadFixture(t, "lot_iarremate.html"), testContext())

	require.Equal(t, "DI CAVALCANTI - Mulata com Flores", rec.Get(FieldTitle))
	require.Equal(t, 0, rec[FieldTitle].Rank)
	require.Equal(t, "DI CAVALCANTI", rec.Get(FieldArtist))
	require.Equal(t, "1.234,56", rec.Get(FieldValue))
	require.Equal(t, "7", rec.Get(FieldBidCount))
	require.Equal(t, "42", rec.Get(FieldLotNumber))
	require.Equal(t, "02/12/2025 12:00:00", rec.Get(FieldAuctionStart))
	require.Equal(t, models.Unknown, rec.Get(FieldAuctionEnd))
	require.Equal(t, "Maria Souza", rec.Get(FieldAuctioneer))
	require.Equal(t, "São Paulo - SP", rec.Get(FieldLocation))
	require.Equal(t, "153", rec.Get(FieldVisitCount))
	require.Equal(t, StatusAvailable, rec.Get(FieldLotStatus))
	require.Contains(t, rec.Get(FieldDescription), "Óleo sobre tela")
}

func TestExtractAllLeiloesBR(t *testing.T) {
	rec := New().ExtractAll(loadFixture(t, "lot_leiloesbr.html"), testContext())

	require.Equal(t, "JOSÉ PANCETTI - Paisagem com casario colonial", rec.Get(FieldTitle))
	require.Equal(t, "JOSÉ PANCETTI", rec.Get(FieldArtist))
	require.Equal(t, "8,000.00", rec.Get(FieldValue))
	require.Equal(t, "12", rec.Get(FieldBidCount))
	require.Equal(t, "15", rec.Get(FieldLotNumber))
	require.Equal(t, "02/12/2025 20:00:00", rec.Get(FieldAuctionStart))
	require.Equal(t, "04/12/2025 20:00:00", rec.Get(FieldAuctionEnd))
	require.Equal(t, "Carlos Pereira", rec.Get(FieldAuctioneer))
	require.Equal(t, "Rio de Janeiro - RJ", rec.Get(FieldLocation))
	require.Equal(t, models.Unknown, rec.Get(FieldVisitCount))
	require.Equal(t, StatusSold, rec.Get(FieldLotStatus))
}

func TestMissesAreUnknown(t *testing.T) {
	rec := New().ExtractAll(loadFixture(t, "empty.html"), testContext())
	for _, f := range Fields {
		require.Equal(t, models.Unknown, rec.Get(f), f)
		require.False(t, rec[f].Known(), f)
	}
}

func TestHintsWinWhenValid(t *testing.T) {
	doc := loadFixture(t, "lot_iarremate.html")
	c := testContext()
	c.Hints = map[Field]string{FieldValue: "R$ 1.300,00", FieldTitle: "Home"}

	e := New()
	v := e.Extract(FieldValue, doc, c)
	require.Equal(t, "1.300,00", v.Value)
	require.Equal(t, "listing", v.Strategy)

	title := e.Extract(FieldTitle, doc, c)
	require.Equal(t, "nome-link", title.Strategy)
}

func TestCurrentBid(t *testing.T) {
	bid, ok := New().CurrentBid(loadFixture(t, "lot_leiloesbr.html"), testContext())
	require.True(t, ok)
	require.Equal(t, "8,000.00", bid.Value)
	require.True(t, bid.HasCount)
	require.Equal(t, 12, bid.Count)
	require.Equal(t, StatusSold, bid.Status)
	require.Equal(t, "04/12/2025 20:00:00", bid.End)

	_, ok = New().CurrentBid(loadFixture(t, "empty.html"), testContext())
	require.False(t, ok)
}

func TestTitleValidator(t *testing.T) {
	accept := []string{"Mulata com Flores, óleo sobre tela", "Vaso em porcelana francesa"}
	reject := []string{
		"Home", "Lote 12 - Pintura a óleo", "Política de Privacidade", "Utilizamos cookies para melhorar",
		"1234567890 R$", "Ver mais", "Ficha Técnica da obra",
	}
	for _, s := range accept {
		_, ok := validTitle(s, Context{})
		require.True(t, ok, s)
	}
	for _, s := range reject {
		_, ok := validTitle(s, Context{})
		require.False(t, ok, s)
	}
}

func TestValueValidator(t *testing.T) {
	v, ok := validValue("Lance atual: R$ 0,00 ou R$ 350,00", Context{})
	require.True(t, ok)
	require.Equal(t, "350,00", v)

	_, ok = validValue("R$ 0,00", Context{})
	require.False(t, ok)

	_, ok = validValue("42", Context{})
	require.False(t, ok)

	v, ok = validValue("1.500,00", Context{})
	require.True(t, ok)
	require.Equal(t, "1.500,00", v)
}

func TestCards(t *testing.T) {
	doc := loadFixture(t, "catalog.html")
	base, err := url.Parse("https://www.iarremate.com/belas-artes")
	require.NoError(t, err)

	cards := Cards(doc.Selection, base, nil)
	require.Len(t, cards, 2)

	require.Equal(t, "https://www.iarremate.com/belas-artes/peca-1", cards[0].URL)
	require.Equal(t, "Paisagem Marinha com Barcos", cards[0].Title)
	require.Equal(t, "R$ 2.500,00", cards[0].Value)
	require.Equal(t, "04/12/2025 20:00", cards[0].Date)
	require.Equal(t, "Galeria Paulista", cards[0].Auctioneer)

	require.Equal(t, "https://www.iarremate.com/belas-artes/peca-2", cards[1].URL)
	require.Equal(t, "Natureza Morta com Frutas", cards[1].Title)
	require.Empty(t, cards[1].Date)

	hints := cards[0].Hints()
	require.Equal(t, "R$ 2.500,00", hints[FieldValue])
	require.NotContains(t, cards[1].Hints(), FieldAuctionStart)
}
