package rets

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentcomps/config"
)

const loginOK = `<RETS ReplyCode="0" ReplyText="V2.7.0 761: Success">
<RETS-RESPONSE>
MemberName=Test Agent
Search=/rets/search
GetObject=/rets/getobject
Logout=/rets/logout
</RETS-RESPONSE>
</RETS>`

// fakeRETS is a minimal RETS server. Handlers left nil answer 404.
type fakeRETS struct {
	*httptest.Server

	logins   atomic.Int32
	logouts  atomic.Int32
	searches atomic.Int32
	objects  atomic.Int32
	metadata atomic.Int32

	login    http.HandlerFunc
	logout   http.HandlerFunc
	search   http.HandlerFunc
	object   http.HandlerFunc
	metaFunc http.HandlerFunc
}

func newFakeRETS(t *testing.T) *fakeRETS {
	t.Helper()
	f := &fakeRETS{}
	f.login = func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "agent" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "RETS-Session-ID", Value: fmt.Sprintf("s%d", f.logins.Load())})
		fmt.Fprint(w, loginOK)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rets/login", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		f.login(w, r)
	})
	mux.HandleFunc("/rets/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logouts.Add(1)
		if f.logout != nil {
			f.logout(w, r)
			return
		}
		fmt.Fprint(w, `<RETS ReplyCode="0" ReplyText="Logging out"/>`)
	})
	mux.HandleFunc("/rets/search", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		serveOr404(f.search, w, r)
	})
	mux.HandleFunc("/rets/getobject", func(w http.ResponseWriter, r *http.Request) {
		f.objects.Add(1)
		serveOr404(f.object, w, r)
	})
	mux.HandleFunc("/rets/getmetadata", func(w http.ResponseWriter, r *http.Request) {
		f.metadata.Add(1)
		serveOr404(f.metaFunc, w, r)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func serveOr404(h http.HandlerFunc, w http.ResponseWriter, r *http.Request) {
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeRETS) options(policy Policy) Options {
	return Options{
		LoginURL: f.URL + "/rets/login",
		Username: "agent",
		Password: "secret",
		Policy:   policy,
		Timeout:  2 * time.Second,
	}
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := NewClient(opts)
	require.NoError(t, err)
	return c
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Options{LoginURL: "https://mls.example.com/login"})
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "RETS_USERNAME")
	assert.Contains(t, err.Error(), "RETS_PASSWORD")
}

func TestSearchEphemeralCycle(t *testing.T) {
	f := newFakeRETS(t)
	f.search = func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "Property", q.Get("SearchType"))
		assert.Equal(t, "RES", q.Get("Class"))
		assert.Equal(t, "(City=Austin)", q.Get("Query"))
		assert.Equal(t, "DMQL2", q.Get("QueryType"))
		assert.Equal(t, "COMPACT-DECODED", q.Get("Format"))
		assert.Equal(t, "200", q.Get("Limit"))
		assert.Equal(t, "1", q.Get("Count"))
		assert.Equal(t, "1", q.Get("StandardNames"))
		assert.Equal(t, "ListingKey,ListPrice", q.Get("Select"))
		assert.Equal(t, "RETS/1.8", r.Header.Get("RETS-Version"))
		assert.Equal(t, "RentComps/1.0", r.Header.Get("User-Agent"))
		cookie, err := r.Cookie("RETS-Session-ID")
		if assert.NoError(t, err) {
			assert.NotEmpty(t, cookie.Value)
		}
		fmt.Fprint(w, compactBody)
	}
	c := newTestClient(t, f.options(PolicyEphemeral))

	res, err := c.Search(context.Background(), SearchRequest{
		SearchType:    "Property",
		Class:         "RES",
		Query:         "(City=Austin)",
		Select:        []string{"ListingKey", "ListPrice"},
		Limit:         200,
		StandardNames: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, int32(1), f.logins.Load())
	assert.Equal(t, int32(1), f.logouts.Load())
}

func TestSearchSurvivesLogoutFailure(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"reply error": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<RETS ReplyCode="20037" ReplyText="No session"/>`)
		},
		"hangs past timeout": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
	}
	for name, logout := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFakeRETS(t)
			f.logout = logout
			f.search = func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, compactBody)
			}
			opts := f.options(PolicyEphemeral)
			opts.Timeout = 200 * time.Millisecond
			c := newTestClient(t, opts)

			res, err := c.Search(context.Background(), SearchRequest{SearchType: "Property", Class: "RES", Query: "(City=Austin)"})

			require.NoError(t, err)
			require.Len(t, res.Records, 2)
			assert.Equal(t, "A1", res.Records[0]["ListingKey"])
			assert.Equal(t, int32(1), f.logouts.Load())
		})
	}
}

func TestSearchNoRecordsIsEmptyResult(t *testing.T) {
	f := newFakeRETS(t)
	f.search = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<RETS ReplyCode="20201" ReplyText="No Records Found."/>`)
	}
	c := newTestClient(t, f.options(PolicyEphemeral))

	res, err := c.Search(context.Background(), SearchRequest{SearchType: "Property", Class: "RES", Query: "(City=Nowhere)"})
	require.NoError(t, err)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
	assert.Equal(t, ReplyNoRecords, res.ReplyCode)
}

func TestSearchReplyErrorIsProtocolError(t *testing.T) {
	f := newFakeRETS(t)
	f.search = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<RETS ReplyCode="20203" ReplyText="Unknown Query Field"/>`)
	}
	c := newTestClient(t, f.options(PolicyEphemeral))

	_, err := c.Search(context.Background(), SearchRequest{Query: "(Bogus=1)"})
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	assert.Contains(t, err.Error(), "20203")
}

func TestSearchMalformedIsEmptyResult(t *testing.T) {
	f := newFakeRETS(t)
	f.search = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<RETS ReplyCode="0" ReplyText="ok"><DATA>	1	</DATA></RETS>`)
	}
	c := newTestClient(t, f.options(PolicyEphemeral))

	res, err := c.Search(context.Background(), SearchRequest{Query: "(City=Austin)"})
	require.NoError(t, err)
	assert.True(t, res.Malformed)
	assert.Empty(t, res.Records)
}

func TestSearchServerErrorIsNetworkError(t *testing.T) {
	f := newFakeRETS(t)
	f.search = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	c := newTestClient(t, f.options(PolicyEphemeral))

	_, err := c.Search(context.Background(), SearchRequest{Query: "(City=Austin)"})
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
}

func TestSearchRetriesOnceAfter401(t *testing.T) {
	f := newFakeRETS(t)
	f.search = func(w http.ResponseWriter, r *http.Request) {
		if f.searches.Load() == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, compactBody)
	}
	c := newTestClient(t, f.options(PolicyCached))

	res, err := c.Search(context.Background(), SearchRequest{Query: "(City=Austin)"})
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, int32(2), f.logins.Load())
	assert.Equal(t, int32(2), f.searches.Load())
}

func TestSearchSecond401IsAuthError(t *testing.T) {
	f := newFakeRETS(t)
	f.search = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	c := newTestClient(t, f.options(PolicyCached))

	_, err := c.Search(context.Background(), SearchRequest{Query: "(City=Austin)"})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, int32(2), f.searches.Load(), "no third attempt")
	assert.Nil(t, c.Sessions().current())
}

func TestLoginReplyErrorIsAuthError(t *testing.T) {
	f := newFakeRETS(t)
	f.login = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<RETS ReplyCode="20036" ReplyText="Missing User Agent or Password"/>`)
	}
	c := newTestClient(t, f.options(PolicyEphemeral))

	_, err := c.Search(context.Background(), SearchRequest{Query: "(City=Austin)"})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "Missing User Agent")
	assert.Equal(t, int32(0), f.searches.Load())
}

func TestLoginWithoutSearchCapabilityIsProtocolError(t *testing.T) {
	f := newFakeRETS(t)
	f.login = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<RETS ReplyCode="0" ReplyText="ok">
Logout=/rets/logout
</RETS>`)
	}
	c := newTestClient(t, f.options(PolicyEphemeral))

	_, err := c.Search(context.Background(), SearchRequest{Query: "(City=Austin)"})
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestLoginTimeoutIsNetworkError(t *testing.T) {
	f := newFakeRETS(t)
	f.login = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}
	opts := f.options(PolicyCached)
	opts.Timeout = 50 * time.Millisecond
	c := newTestClient(t, opts)

	_, err := c.Search(context.Background(), SearchRequest{Query: "(City=Austin)"})
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.Nil(t, c.Sessions().current())
	assert.Equal(t, int32(0), f.searches.Load())
}

func TestLoginRejectedStatusIsNetworkError(t *testing.T) {
	f := newFakeRETS(t)
	opts := f.options(PolicyEphemeral)
	opts.Password = "wrong"
	c := newTestClient(t, opts)

	_, err := c.Search(context.Background(), SearchRequest{Query: "(City=Austin)"})
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
}

func TestCachedSessionReusedUntilTTL(t *testing.T) {
	f := newFakeRETS(t)
	f.search = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, compactBody)
	}
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts := f.options(PolicyCached)
	opts.SessionTTL = 25 * time.Minute
	opts.Now = clock.Now
	c := newTestClient(t, opts)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Search(ctx, SearchRequest{Query: "(City=Austin)"})
		require.NoError(t, err)
		clock.Advance(5 * time.Minute)
	}
	assert.Equal(t, int32(1), f.logins.Load())
	assert.Equal(t, int32(0), f.logouts.Load())

	clock.Advance(11 * time.Minute)
	_, err := c.Search(ctx, SearchRequest{Query: "(City=Austin)"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.logins.Load())

	c.Close(ctx)
	assert.Equal(t, int32(1), f.logouts.Load())
}

func TestCachedRefreshIsSingleFlight(t *testing.T) {
	f := newFakeRETS(t)
	login := f.login
	f.login = func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		login(w, r)
	}
	f.search = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, compactBody)
	}
	c := newTestClient(t, f.options(PolicyCached))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Search(context.Background(), SearchRequest{Query: "(City=Austin)"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.logins.Load())
	assert.Equal(t, int32(10), f.searches.Load())
}

func TestBreakerOpensAfterRepeatedLoginFailures(t *testing.T) {
	f := newFakeRETS(t)
	f.login = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	opts := f.options(PolicyEphemeral)
	opts.BreakerFailures = 2
	c := newTestClient(t, opts)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Search(ctx, SearchRequest{Query: "(City=Austin)"})
		require.Error(t, err)
		assert.True(t, IsNetworkError(err))
	}
	assert.Equal(t, int32(2), f.logins.Load())
}

func TestGetObject(t *testing.T) {
	jpeg := make([]byte, 2048)
	copy(jpeg, []byte{0xFF, 0xD8, 0xFF, 0xE0})

	f := newFakeRETS(t)
	f.object = func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "Photo", q.Get("Type"))
		assert.Equal(t, "Property", q.Get("Resource"))
		switch q.Get("ID") {
		case "L1:1":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(jpeg)
		case "L1:2":
			w.Header().Set("Content-Type", "text/xml")
			fmt.Fprint(w, `<RETS ReplyCode="20403" ReplyText="No Object Found"/>`+strings.Repeat(" ", 200))
		case "L1:3":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(jpeg[:10])
		case "L1:4":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(jpeg)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
	c := newTestClient(t, f.options(PolicyCached))
	ctx := context.Background()

	obj, err := c.GetObject(ctx, "L1", 1)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Len(t, obj.Data, len(jpeg))

	for _, idx := range []int{2, 3, 9} {
		obj, err = c.GetObject(ctx, "L1", idx)
		assert.NoError(t, err)
		assert.Nil(t, obj, "index %d", idx)
	}

	obj, err = c.GetObject(ctx, "L1", 4)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, "application/octet-stream", obj.ContentType)
}

func TestGetMetadataDerivesURLFromSearch(t *testing.T) {
	f := newFakeRETS(t)
	f.metaFunc = func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "METADATA-TABLE", q.Get("Type"))
		assert.Equal(t, "Property:RES", q.Get("ID"))
		assert.Equal(t, "COMPACT", q.Get("Format"))
		fmt.Fprint(w, `<RETS ReplyCode="0" ReplyText="ok"><METADATA-TABLE Resource="Property" Class="RES"></METADATA-TABLE></RETS>`)
	}
	c := newTestClient(t, f.options(PolicyEphemeral))

	doc, err := c.GetMetadata(context.Background(), "METADATA-TABLE", "Property:RES")
	require.NoError(t, err)
	assert.Contains(t, doc, "METADATA-TABLE")
	assert.Equal(t, int32(1), f.metadata.Load())
}

func TestMetadataURL(t *testing.T) {
	s := &Session{Capabilities: Capabilities{CapSearch: "https://mls.example.com/rets/Search.ashx"}}
	assert.Equal(t, "https://mls.example.com/rets/getmetadata.ashx", metadataURL(s))

	s.Capabilities[CapGetMetadata] = "https://mls.example.com/meta"
	assert.Equal(t, "https://mls.example.com/meta", metadataURL(s))
}
