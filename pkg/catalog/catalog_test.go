package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReply = `#Catalog GSC241 cone search
#
objID,ra,dec,SDSSgMag,SDSSgMagErr,SDSSrMag,SDSSrMagErr
1,150.0000,2.0000,14.2,0.02,13.9,0.03
2,150.0010,2.0005,,,16.1,0.05
3,150.0100,2.0100,23.5,0.30,22.4,0.20
4,150.0200,1.9900,-999,0,12.5,0.01
5,150.0300,1.9800,15.0,,15.2,0.04
`

func TestBand(t *testing.T) {
	assert.Equal(t, "r", Band("r-SDSS"))
	assert.Equal(t, "g", Band(" g "))
	assert.Equal(t, "i", Band("i"))
	assert.Equal(t, "", Band(""))
}

func TestParseEntriesFiltersMagnitudes(t *testing.T) {
	entries, err := ParseEntries([]byte(sampleReply), "r", DefaultMaxMag)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, Entry{RA: 150, Dec: 2, Mag: 13.9, MagErr: 0.03}, entries[0])
	assert.Equal(t, 12.5, entries[2].Mag)

	// g: row 2 is empty, rows 3 and 4 out of range, row 5 lacks an error
	entries, err = ParseEntries([]byte(sampleReply), "g", DefaultMaxMag)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 14.2, entries[0].Mag)

	entries, err = ParseEntries([]byte(sampleReply), "r", 15)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestParseEntriesMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"empty":      "",
		"comments":   "# nothing\n#\n",
		"no filter":  "ra,dec,SDSSgMag,SDSSgMagErr\n1,2,3,0.1\n",
		"no coords":  "x,y,SDSSrMag,SDSSrMagErr\n1,2,3,0.1\n",
		"short row":  "ra,dec,SDSSrMag,SDSSrMagErr\n1,2\n",
		"bad coords": "ra,dec,SDSSrMag,SDSSrMagErr\nabc,2,14,0.1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEntries([]byte(body), "r", DefaultMaxMag)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestClientQuery(t *testing.T) {
	requests := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		w.Write([]byte(sampleReply))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	entries, raw, err := c.Entries(context.Background(), Query{RA: 150.5, Dec: -2.25}, "r", DefaultMaxMag)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, sampleReply, string(raw))

	got := <-requests
	q := got.URL.Query()
	assert.Equal(t, "150.5", q.Get("RA"))
	assert.Equal(t, "-2.25", q.Get("DEC"))
	assert.Equal(t, "CSV", q.Get("FORMAT"))
	assert.Equal(t, "GSC241", q.Get("CAT"))
	assert.Equal(t, "0.5", q.Get("SR"))
}

func TestQueryURL(t *testing.T) {
	c := NewClient("", 0)
	assert.Equal(t,
		"http://gsss.stsci.edu/webservices/vo/CatalogSearch.aspx?RA=10.5&DEC=41.25&DSN=+&FORMAT=CSV&CAT=GSC241&SR=0.5&",
		c.QueryURL(Query{RA: 10.5, Dec: 41.25}))
}

func TestClientServiceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	c := NewClient(srv.URL, time.Second)
	_, err := c.Fetch(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	srv.Close()
	_, err = c.Fetch(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>\n"))
	}))
	defer garbage.Close()
	_, _, err = NewClient(garbage.URL, time.Second).Entries(context.Background(), Query{}, "r", 0)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClientHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(srv.URL, time.Second).Fetch(ctx, Query{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestMatchRadius(t *testing.T) {
	assert.InDelta(t, 0.76/3600, MatchRadius(1, 0.76, 1), 1e-15)
	assert.InDelta(t, 2*0.76/3600, MatchRadius(1, 0.76, 2), 1e-15)
	assert.InDelta(t, 0.76/3600, MatchRadius(1, 0.76, 0), 1e-15)
}

func TestSeparation(t *testing.T) {
	assert.InDelta(t, 1.0, Separation(Position{10, 0}, Position{11, 0}), 1e-9)
	assert.InDelta(t, 0.5, Separation(Position{10, 60}, Position{10, 60.5}), 1e-9)
	assert.InDelta(t, 180.0, Separation(Position{0, 0}, Position{180, 0}), 1e-6)
	assert.InDelta(t, 0.0, Separation(Position{359.9999, 0}, Position{359.9999, 0}), 1e-12)
}

func TestCrossMatch(t *testing.T) {
	arcsec := 1.0 / 3600
	sources := []Position{
		{150, 2},
		{150.01, 2.01},
		{150.05, 2.05},
	}
	entries := []Entry{
		{RA: 150 + 0.3*arcsec, Dec: 2, Mag: 13},       // source 0
		{RA: 150.01, Dec: 2.01 + 0.2*arcsec, Mag: 14}, // source 1
		{RA: 150 - 0.1*arcsec, Dec: 2, Mag: 15},       // source 0 again, dropped
		{RA: 150.05, Dec: 2.05 + 5*arcsec, Mag: 16},   // too far
		{RA: 200, Dec: -30, Mag: 17},                  // nowhere near
	}
	maxSep := MatchRadius(1, 0.76, 1)
	matches := CrossMatch(entries, sources, maxSep)
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Source)
	assert.Equal(t, 13.0, matches[0].Entry.Mag)
	assert.Equal(t, 1, matches[1].Source)
	seen := map[int]bool{}
	for _, m := range matches {
		assert.Less(t, m.Separation, maxSep)
		assert.False(t, seen[m.Source])
		seen[m.Source] = true
		want := Separation(sources[m.Source], Position{m.Entry.RA, m.Entry.Dec})
		assert.InDelta(t, want, m.Separation, 1e-12)
	}
	assert.InDelta(t, 0.3*arcsec*0.99939, matches[0].Separation, 1e-9)
}

func TestCrossMatchEmpty(t *testing.T) {
	assert.Empty(t, CrossMatch(nil, []Position{{1, 1}}, 1))
	assert.Empty(t, CrossMatch([]Entry{{RA: 1, Dec: 1}}, nil, 1))
	m := CrossMatch([]Entry{{RA: 1, Dec: 1}}, []Position{{1, 1}}, 1)
	require.Len(t, m, 1)
	assert.Zero(t, m[0].Source)
}
