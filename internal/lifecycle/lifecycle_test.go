package lifecycle

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"lotwatch/internal/models"
)

func ptr(t time.Time) *time.Time { return &t }

func TestClassify(t *testing.T) {
	now := time.Date(2025, 12, 4, 20, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		start, end *time.Time
		want       models.Phase
	}{
		{"running", ptr(now.Add(-time.Hour)), ptr(now.Add(time.Hour)), models.PhaseActive},
		{"later", ptr(now.Add(3 * time.Hour)), ptr(now.Add(-time.Hour)), models.PhaseScheduled},
		{"later without end", ptr(now.Add(3 * time.Hour)), nil, models.PhaseScheduled},
		{"long over", ptr(now.Add(-30 * time.Hour)), ptr(now.Add(-29 * time.Hour)), models.PhaseFinished},
		{"nothing parsed", nil, nil, models.PhaseUnknown},
		{"start only recent", ptr(now.Add(-23 * time.Hour)), nil, models.PhaseActive},
		{"start only stale", ptr(now.Add(-24 * time.Hour)), nil, models.PhaseFinished},
		{"boundary start", ptr(now), ptr(now), models.PhaseActive},
		{"end only past", nil, ptr(now.Add(-time.Minute)), models.PhaseFinished},
		{"end only future", nil, ptr(now.Add(time.Minute)), models.PhaseUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, Classify(now, c.start, c.end))
		})
	}
}

func TestClassifyTextUnparseable(t *testing.T) {
	now := time.Now()
	require.Equal(t, models.PhaseUnknown, ClassifyText(now, "em breve", models.Unknown, time.UTC))
}

func TestParseFormats(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	ref := time.Date(2025, 12, 1, 10, 0, 0, 0, loc)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"04/12/2025 20:00", time.Date(2025, 12, 4, 20, 0, 0, 0, loc)},
		{"Leilão: 04/12/2025 às 20:30:15", time.Date(2025, 12, 4, 20, 30, 15, 0, loc)},
		{"4/12/2025 - 20h", time.Date(2025, 12, 4, 20, 0, 0, 0, loc)},
		{"04/12/2025", time.Date(2025, 12, 4, 0, 0, 0, 0, loc)},
		{"2025-12-04 19:45", time.Date(2025, 12, 4, 19, 45, 0, 0, loc)},
		{"04-12-2025 19:45:10", time.Date(2025, 12, 4, 19, 45, 10, 0, loc)},
		{"2025-12-04T20:00:00-03:00", time.Date(2025, 12, 4, 20, 0, 0, 0, loc)},
		{"23D 22H 43M 36S", ref.Add(23*24*time.Hour + 22*time.Hour + 43*time.Minute + 36*time.Second)},
		{"Countdown: 1d 2h 3m", ref.Add(26*time.Hour + 3*time.Minute)},
		{"Faltam 2 dias 5 horas", ref.Add(53 * time.Hour)},
	}
	for _, c := range cases {
		got, ok := Parse(c.in, ref, loc)
		require.True(t, ok, c.in)
		require.True(t, c.want.Equal(got), "%s: got %s want %s", c.in, got, c.want)
	}
}

func TestParseRejects(t *testing.T) {
	ref := time.Now()
	for _, in := range []string{"", "unknown", "31/02/2025 10:00", "Lote 12", "99/99/2025"} {
		_, ok := Parse(in, ref, time.UTC)
		require.False(t, ok, in)
	}
}

func TestNormalizeCountdownIsAbsolute(t *testing.T) {
	ref := time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)
	got, ok := Normalize("ESTE LEILÃO COMEÇA EM 1D 2H 0M 5S", ref, time.UTC)
	require.True(t, ok)
	require.Equal(t, "02/12/2025 12:00:05", got)

	again, ok := Parse(got, ref.Add(48*time.Hour), time.UTC)
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 12, 2, 12, 0, 5, 0, time.UTC), again)
}

func TestLastSessionDay(t *testing.T) {
	text := "1º DIA - 2/12/2025 - 20:00 2º DIA - 3/12/2025 - 20:00 3º DIA - 4/12/2025 - 21h00"
	got, ok := LastSessionDay(text)
	require.True(t, ok)
	require.Equal(t, "4/12/2025 21:00", got)

	_, ok = LastSessionDay("sem pregão")
	require.False(t, ok)
}

func TestEligible(t *testing.T) {
	now := time.Date(2025, 12, 4, 20, 0, 0, 0, time.UTC)
	lead := 2 * time.Hour

	require.True(t, Eligible(now, models.PhaseScheduled, ptr(now.Add(90*time.Minute)), lead))
	require.False(t, Eligible(now, models.PhaseScheduled, ptr(now.Add(3*time.Hour)), lead))
	require.True(t, Eligible(now, models.PhaseActive, ptr(now.Add(-time.Hour)), lead))
	require.True(t, Eligible(now, models.PhaseUnknown, nil, lead))
	require.False(t, Eligible(now, models.PhaseFinished, nil, lead))
}
