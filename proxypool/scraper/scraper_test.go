package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTableScraper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><table><tbody>
<tr><td>10.0.0.1</td><td>8080</td><td>HTTP</td></tr>
<tr><td>10.0.0.2</td><td>1080</td><td>SOCKS5</td></tr>
<tr><td>10.0.0.3</td><td>bad</td><td>HTTP</td></tr>
</tbody></table></body></html>`))
	}))
	defer srv.Close()

	s := NewTableScraper(srv.URL)
	s.ProtoColumn = 2
	eps, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(eps))
	}
	if eps[0].ID != "http://10.0.0.1:8080" || eps[1].ID != "socks5://10.0.0.2:1080" {
		t.Errorf("unexpected ids: %s, %s", eps[0].ID, eps[1].ID)
	}
}

func TestScriptListScraper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>const fpsList = [{"ip":"10.0.0.5","port":"3128"},{"ip":"10.0.0.6","port":8118}];</script>`))
	}))
	defer srv.Close()

	s := NewScriptListScraper("fpsList", srv.URL)
	eps, err := s.Scrape(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(eps))
	}
	if eps[1].Address != "10.0.0.6:8118" {
		t.Errorf("numeric port not handled: %s", eps[1].Address)
	}
}
