package export

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

func newTestExporter(t *testing.T, pdfURL, docxURL string) *Exporter {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(log, pdfURL, docxURL)
}

func TestExportDisabledFormatReturnsNil(t *testing.T) {
	e := newTestExporter(t, "", "")
	data, err := e.ExportPDF(context.Background(), "# doc")
	if err != nil {
		t.Fatalf("disabled export: %v", err)
	}
	if data != nil {
		t.Fatalf("disabled export must return nil bytes, got %d", len(data))
	}
}

func TestExportPostsMarkdownAndReturnsBytes(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	e := newTestExporter(t, srv.URL, "")
	data, err := e.ExportPDF(context.Background(), "# final")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if string(data) != "%PDF-1.7 fake" {
		t.Fatalf("export bytes: got=%q", data)
	}
	if received != "# final" {
		t.Fatalf("posted markdown: got=%q", received)
	}
}

func TestExportRetriesOnServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("doc"))
	}))
	defer srv.Close()

	e := newTestExporter(t, "", srv.URL)
	data, err := e.ExportDocx(context.Background(), "x")
	if err != nil {
		t.Fatalf("export after retry: %v", err)
	}
	if string(data) != "doc" || calls != 2 {
		t.Fatalf("retry: calls=%d data=%q", calls, data)
	}
}

func TestExportFailsOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := newTestExporter(t, srv.URL, "")
	if _, err := e.ExportPDF(context.Background(), "x"); err == nil {
		t.Fatalf("client error must not be retried into success")
	}
}
