package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"lotwatch/internal/config"
	"lotwatch/internal/db"
	"lotwatch/internal/models"
	"lotwatch/internal/notify"
)

const listingPage1 = `<html><body>
<nav><a href="/busca">Busca</a></nav>
<div class="grid">
  <div class="card-obra">
    <a href="/lote/1"><h3>Paisagem Marinha com Barcos</h3></a>
    <span class="preco">R$ 2.500,00</span>
  </div>
  <div class="card-obra"><a href="/lote/2">Natureza Morta com Frutas</a></div>
  <div class="card-obra"><a href="/lote/3">Retrato de Senhora Sentada</a></div>
  <div class="card-obra"><a href="/lote/4">Estudo de Figura Humana</a></div>
</div>
<a href="/catalogo?pg=2">Próxima</a>
</body></html>`

const listingPage2 = `<html><body>
<div class="grid">
  <div class="card-obra">
    <a href="/lote/5"><h3>Vaso com Flores Amarelas</h3></a>
    <span class="preco">R$ 750,00</span>
  </div>
  <div class="card-obra"><a href="/lote/1">Paisagem Marinha com Barcos</a></div>
</div>
<a href="/catalogo?pg=1">Anterior</a>
</body></html>`

func lotPage(title, value string) string {
	price := ""
	if value != "" {
		price = fmt.Sprintf(`<div class="valor-atual"><span>Valor Atual</span> <span>R$ %s</span></div>`, value)
	}
	return fmt.Sprintf(`<html><head><title>%s</title></head><body>
<div class="conteudo"><h1>%s</h1>%s<p>Sem lances até o momento.</p></div>
</body></html>`, title, title, price)
}

func closedLotPage(title, value, end string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><body>
<div class="conteudo"><h1>%s</h1>
<div class="valor-atual"><span>Valor Atual</span> <span>R$ %s</span></div>
<div class="status-lote">Vendido</div>
<div class="end-date">%s</div>
</div></body></html>`, title, title, value, end)
}

type catalogSite struct {
	srv     *httptest.Server
	lotHits atomic.Int32

	mu    sync.Mutex
	pages map[string]string
}

// replace serves body at path from now on.
func (s *catalogSite) replace(path, body string) {
	s.mu.Lock()
	s.pages[path] = body
	s.mu.Unlock()
}

func (s *catalogSite) replaced(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	body, ok := s.pages[r.URL.Path]
	s.mu.Unlock()
	if ok {
		fmt.Fprint(w, body)
	}
	return ok
}

func newCatalogSite(t *testing.T) *catalogSite {
	site := &catalogSite{pages: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("/catalogo", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pg") == "2" {
			fmt.Fprint(w, listingPage2)
			return
		}
		fmt.Fprint(w, listingPage1)
	})
	mux.HandleFunc("/lote/", func(w http.ResponseWriter, r *http.Request) {
		site.lotHits.Add(1)
		if site.replaced(w, r) {
			return
		}
		switch r.URL.Path {
		case "/lote/1":
			fmt.Fprint(w, lotPage("Paisagem Marinha com Barcos", ""))
		case "/lote/2":
			fmt.Fprint(w, lotPage("Natureza Morta com Frutas", "3.100,00"))
		case "/lote/3":
			http.Redirect(w, r, "/leilao/lote-3", http.StatusFound)
		case "/lote/4":
			fmt.Fprint(w, lotPage("Estudo de Figura Humana", ""))
		case "/lote/5":
			fmt.Fprint(w, lotPage("Vaso com Flores Amarelas", ""))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/leilao/lote-3", func(w http.ResponseWriter, r *http.Request) {
		if site.replaced(w, r) {
			return
		}
		fmt.Fprint(w, lotPage("Retrato de Senhora Sentada", "12.000,00"))
	})
	site.srv = httptest.NewServer(mux)
	t.Cleanup(site.srv.Close)
	return site
}

func testConfig(base string) *config.Config {
	cfg := config.Default()
	cfg.Logic.MaxRetries = 1
	cfg.Logic.DelayMS = 0
	cfg.Logic.RespectRobots = false
	cfg.Logic.MaxConcurrentWorkers = 2
	cfg.Sources = map[string]config.SourceConfig{
		"galeria": {
			Name:               "galeria",
			BaseURLs:           []string{base},
			StartURLs:          []string{base + "/catalogo"},
			FollowPatterns:     []string{`/lote/`},
			PaginationPatterns: []string{`pg=\d+`},
			Category:           "pinturas",
			MaxPages:           5,
		},
	}
	return cfg
}

func newTestApp(t *testing.T, store db.Store, base string) *App {
	a := NewWithStore(testConfig(base), store, notify.NewLogSink(nil))
	t.Cleanup(a.scheduler.StopAll)
	return a
}

func TestDiscoverStoresLots(t *testing.T) {
	ctx := context.Background()
	site := newCatalogSite(t)
	store, err := db.NewSQLStore(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	ids, err := newTestApp(t, store, site.srv.URL).Discover(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 4)

	lot1, err := store.FindItemByURL(ctx, "galeria", site.srv.URL+"/lote/1")
	require.NoError(t, err)
	require.NotNil(t, lot1)
	require.Equal(t, "Paisagem Marinha com Barcos", lot1.Title)
	require.Equal(t, "2.500,00", lot1.InitialValue)
	require.Equal(t, "pinturas", lot1.Category)
	require.Equal(t, 1, lot1.Page)
	require.Nil(t, lot1.CurrentValue)
	require.NotEmpty(t, lot1.SessionID)

	lot2, err := store.FindItemByURL(ctx, "galeria", site.srv.URL+"/lote/2")
	require.NoError(t, err)
	require.Equal(t, "3.100,00", lot2.InitialValue)
	require.Equal(t, models.Unknown, lot2.AuctionStart)

	lot3, err := store.FindItemByURL(ctx, "galeria", site.srv.URL+"/lote/3")
	require.NoError(t, err)
	require.NotNil(t, lot3)
	require.Equal(t, site.srv.URL+"/leilao/lote-3", lot3.CanonicalURL)
	require.Equal(t, site.srv.URL+"/lote/3", lot3.OriginalURL)
	require.Empty(t, lot3.RedirectedSite)
	require.Equal(t, "12.000,00", lot3.InitialValue)

	// no value anywhere: skipped
	lot4, err := store.FindItemByURL(ctx, "galeria", site.srv.URL+"/lote/4")
	require.NoError(t, err)
	require.Nil(t, lot4)

	lot5, err := store.FindItemByURL(ctx, "galeria", site.srv.URL+"/lote/5")
	require.NoError(t, err)
	require.Equal(t, "750,00", lot5.InitialValue)
	require.Equal(t, 2, lot5.Page)

	require.EqualValues(t, 5, site.lotHits.Load())
}

func TestRediscoverSkipsKnownLots(t *testing.T) {
	ctx := context.Background()
	site := newCatalogSite(t)
	store, err := db.NewSQLStore(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = newTestApp(t, store, site.srv.URL).Discover(ctx)
	require.NoError(t, err)
	hits := site.lotHits.Load()

	ids, err := newTestApp(t, store, site.srv.URL).Discover(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
	// only the lot without a value is fetched again
	require.Equal(t, hits+1, site.lotHits.Load())
}

func TestDiscoverUnknownSource(t *testing.T) {
	store, err := db.NewSQLStore(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = newTestApp(t, store, "http://127.0.0.1:1").Discover(context.Background(), "nope")
	require.Error(t, err)
}

func TestExtractURL(t *testing.T) {
	site := newCatalogSite(t)
	store, err := db.NewSQLStore(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	res, err := newTestApp(t, store, site.srv.URL).ExtractURL(context.Background(), site.srv.URL+"/lote/3")
	require.NoError(t, err)
	require.Equal(t, site.srv.URL+"/leilao/lote-3", res.FinalURL)
	require.Equal(t, "12.000,00", res.Record.Get("value"))
	require.Equal(t, "Retrato de Senhora Sentada", res.Record.Get("title"))
	require.Equal(t, models.PhaseUnknown, res.Phase)
}

type changes struct {
	mu  sync.Mutex
	got []models.Change
}

func (c *changes) Publish(_ context.Context, ch models.Change) error {
	c.mu.Lock()
	c.got = append(c.got, ch)
	c.mu.Unlock()
	return nil
}

func (c *changes) Close() error { return nil }

func TestRefreshUpdatesFinishedLots(t *testing.T) {
	ctx := context.Background()
	site := newCatalogSite(t)
	store, err := db.NewSQLStore(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = newTestApp(t, store, site.srv.URL).Discover(ctx)
	require.NoError(t, err)

	site.replace("/lote/2", closedLotPage("Natureza Morta com Frutas", "3.400,00", "02/12/2025 20:00"))

	sink := &changes{}
	a := NewWithStore(testConfig(site.srv.URL), store, sink)
	t.Cleanup(a.scheduler.StopAll)

	report, err := a.Refresh(ctx, nil, 0)
	require.NoError(t, err)
	// lots 1 and 5 only carry their card value, their pages show none
	require.Equal(t, RefreshReport{Checked: 4, Changed: 1, Unchanged: 1, Failed: 2}, report)

	lot2, err := store.FindItemByURL(ctx, "galeria", site.srv.URL+"/lote/2")
	require.NoError(t, err)
	require.Equal(t, "3.400,00", *lot2.CurrentValue)
	require.Equal(t, models.LotSold, lot2.LotStatus)
	require.Equal(t, "02/12/2025 20:00:00", lot2.AuctionEnd)

	history, err := store.ListObservations(ctx, lot2.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, 1, history[0].BidSequence)

	require.Len(t, sink.got, 1)
	require.Equal(t, "3.100,00", sink.got[0].OldValue)
	require.Equal(t, "3.400,00", sink.got[0].NewValue)

	// nothing moved since: a second pass writes nothing
	report, err = a.Refresh(ctx, []string{"galeria"}, 0)
	require.NoError(t, err)
	require.Zero(t, report.Changed)
	require.Len(t, sink.got, 1)

	history, err = store.ListObservations(ctx, lot2.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRefreshHonoursLimitAndSource(t *testing.T) {
	ctx := context.Background()
	site := newCatalogSite(t)
	store, err := db.NewSQLStore(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	a := newTestApp(t, store, site.srv.URL)
	_, err = a.Discover(ctx)
	require.NoError(t, err)

	report, err := a.Refresh(ctx, []string{"galeria"}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)

	report, err = a.Refresh(ctx, []string{"elsewhere"}, 0)
	require.NoError(t, err)
	require.Zero(t, report.Checked)
}
