package browse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mohammed-shakir/ode-browse-cache/internal/assemble"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/fetch"
	"github.com/mohammed-shakir/ode-browse-cache/internal/cache/filestore"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/model"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/ode"
	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
	"github.com/mohammed-shakir/ode-browse-cache/internal/imagery"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	m := image.NewGray(image.Rect(0, 0, w, h))
	m.SetGray(0, 0, color.Gray{Y: 128})
	var buf bytes.Buffer
	if err := png.Encode(&buf, m); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type odeDouble struct {
	srv       *httptest.Server
	queries   int64
	downloads int64
}

func newODEDouble(t *testing.T) *odeDouble {
	t.Helper()
	d := &odeDouble{}
	files := map[string][]byte{
		"/files/P1_A.png":   pngBytes(t, 2, 1),
		"/files/P1_B.png":   pngBytes(t, 3, 1),
		"/files/P2_A.png":   pngBytes(t, 4, 1),
		"/files/P2.lbl":     []byte("PDS_VERSION_ID = PDS3"),
		"/files/broken.png": []byte("not a png"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/live2/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&d.queries, 1)
		base := "http://" + r.Host + "/files/"
		entry := func(typ, name, desc string) string {
			return fmt.Sprintf(`<Product_file><FileName>%s</FileName><Type>%s</Type><URL>%s%s</URL><Description>%s</Description></Product_file>`,
				name, typ, base, name, desc)
		}
		fmt.Fprintf(w, `<ODEResults><Products>
<Product><pdsid>P1</pdsid><Product_files>%s%s%s</Product_files></Product>
<Product><pdsid>P2</pdsid><Product_files>%s%s%s%s</Product_files></Product>
</Products></ODEResults>`,
			entry("Browse", "P1_A.png", "imgA"),
			entry("Product", "P1_A.IMG", "data"),
			entry("Browse", "P1_B.png", "imgB"),
			entry("Browse", "P2_A.png", "imgA"),
			entry("Browse", "P2.lbl", "label"),
			entry("Browse", "broken.png", "broken"),
			entry("Browse", "missing.png", "gone"),
		)
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&d.downloads, 1)
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	})
	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)
	return d
}

func descriptor(t *testing.T) query.Descriptor {
	t.Helper()
	d, err := query.New(query.DefaultParams("Mars", "MRO", "HIRISE", "RDRV11"))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestOutput_EndToEnd(t *testing.T) {
	od := newODEDouble(t)
	res, err := ode.New(nil, od.srv.Client(), od.srv.URL+"/live2/")
	if err != nil {
		t.Fatal(err)
	}
	st, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := fetch.New(nil, st, fetch.NewHTTPDownloader(od.srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	deps := Deps{
		Resolver:  res,
		Cache:     mgr,
		Assembler: &assemble.Assembler{Decoder: imagery.Decoder{RemoveNoData: true}},
		Footprint: rec,
	}

	f, err := New(descriptor(t), deps)
	if err != nil {
		t.Fatal(err)
	}
	w, diag, err := f.Output(context.Background())
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	g := w.Data()
	if !slices.Equal(g.Products(), []string{"P1", "P2"}) {
		t.Fatalf("products=%v", g.Products())
	}
	if !slices.Equal(g.Descriptions("P1"), []string{"imgA", "imgB"}) ||
		!slices.Equal(g.Descriptions("P2"), []string{"imgA"}) {
		t.Fatalf("descriptions P1=%v P2=%v", g.Descriptions("P1"), g.Descriptions("P2"))
	}
	if img, _ := g.Get("P2", "imgA"); !slices.Equal(img.Shape, []int{1, 4}) {
		t.Fatalf("P2/imgA shape=%v", img.Shape)
	}
	if len(diag.Fetch) != 1 || !strings.HasSuffix(diag.Fetch[0].Location, "missing.png") {
		t.Fatalf("fetch diagnostics=%v", diag.Fetch)
	}
	if len(diag.Decode) != 1 || !strings.HasSuffix(diag.Decode[0].Key, "broken.png") {
		t.Fatalf("decode diagnostics=%v", diag.Decode)
	}
	if rec.calls != 1 {
		t.Fatalf("footprint recorded %d times", rec.calls)
	}

	// 6 browse files, all attempted once
	if n := atomic.LoadInt64(&od.downloads); n != 6 {
		t.Fatalf("downloads=%d want 6", n)
	}
	if _, _, err := f.Output(context.Background()); err != nil {
		t.Fatal(err)
	}
	// only the missing file is retried
	if n := atomic.LoadInt64(&od.downloads); n != 7 {
		t.Fatalf("downloads after second call=%d want 7", n)
	}
	if n := atomic.LoadInt64(&od.queries); n != 2 {
		t.Fatalf("catalog queries=%d want 2", n)
	}

	b, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), `{"P1":{"imgA":{"shape":[1,2]`) {
		t.Fatalf("json=%s", b)
	}
}

type recorder struct{ calls int }

func (r *recorder) Record(context.Context, query.Descriptor) ([]string, error) {
	r.calls++
	return nil, nil
}

type stubResolver struct {
	rs  *model.Resources
	err error
}

func (s stubResolver) Resolve(context.Context, query.Descriptor) (*model.Resources, error) {
	return s.rs, s.err
}

type stubCache struct {
	batch cache.Batch
	err   error
	calls int
}

func (s *stubCache) Fetch(_ context.Context, _ string, locs []string) (cache.Batch, error) {
	s.calls++
	if s.batch.Paths == nil {
		s.batch.Paths = make([]string, len(locs))
	}
	return s.batch, s.err
}

func TestOutput_NoResultsIsEmpty(t *testing.T) {
	c := &stubCache{}
	f, _ := New(descriptor(t), Deps{Resolver: stubResolver{err: ode.ErrNoResults}, Cache: c})
	w, diag, err := f.Output(context.Background())
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if w.Data().Len() != 0 || !diag.Empty() || c.calls != 0 {
		t.Fatalf("len=%d diag=%v cache calls=%d", w.Data().Len(), diag, c.calls)
	}
}

func TestOutput_RemoteErrorPropagates(t *testing.T) {
	want := &ode.RemoteQueryError{Status: 500, Err: errors.New("boom")}
	f, _ := New(descriptor(t), Deps{Resolver: stubResolver{err: want}, Cache: &stubCache{}})
	_, _, err := f.Output(context.Background())
	var rq *ode.RemoteQueryError
	if !errors.As(err, &rq) || rq != want {
		t.Fatalf("want the resolver's error unchanged, got %v", err)
	}
}

func TestOutput_CacheFatalErrorPropagates(t *testing.T) {
	rs := model.NewResources()
	rs.Put(model.Resource{Key: "u", ProductID: "P", Description: "d", Location: "u"})
	f, _ := New(descriptor(t), Deps{
		Resolver: stubResolver{rs: rs},
		Cache:    &stubCache{err: context.Canceled},
	})
	if _, _, err := f.Output(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestOutput_LengthMismatchIsFatal(t *testing.T) {
	rs := model.NewResources()
	rs.Put(model.Resource{Key: "u", ProductID: "P", Description: "d", Location: "u"})
	f, _ := New(descriptor(t), Deps{
		Resolver: stubResolver{rs: rs},
		Cache:    &stubCache{batch: cache.Batch{Paths: []string{"/a.png", "/b.png"}}},
	})
	if _, _, err := f.Output(context.Background()); !errors.Is(err, assemble.ErrLengthMismatch) {
		t.Fatalf("want ErrLengthMismatch, got %v", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(descriptor(t), Deps{Cache: &stubCache{}}); err == nil {
		t.Fatalf("missing resolver must fail")
	}
	if _, err := New(descriptor(t), Deps{Resolver: stubResolver{}}); err == nil {
		t.Fatalf("missing cache must fail")
	}
}
