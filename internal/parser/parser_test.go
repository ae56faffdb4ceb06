package parser

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintake/internal/models"
)

func newTestParser(t *testing.T, opts ...Option) *Parser {
	t.Helper()
	p, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func file(name, content string) models.UploadedFile {
	return models.UploadedFile{Name: name, Size: int64(len(content)), Content: []byte(content)}
}

func TestParseDocumentsMarkdown(t *testing.T) {
	p := newTestParser(t)
	res := p.ParseDocuments(context.Background(), []models.UploadedFile{file("test.md", "hello")})

	require.Len(t, res.Documents, 1)
	doc := res.Documents[0]
	assert.Equal(t, 0, doc.Index)
	assert.Equal(t, "test.md", doc.Filename)
	assert.Equal(t, models.FormatMarkdown, doc.Format)
	assert.Equal(t, "hello", doc.Content)
	assert.Equal(t, 1, doc.WordCount)
	assert.NotNil(t, doc.ParseErrors)
	assert.Empty(t, doc.ParseErrors)
	assert.Empty(t, res.Errors)
}

func TestParseDocumentsIsolatesFailures(t *testing.T) {
	p := newTestParser(t, WithWorkers(2))
	files := []models.UploadedFile{
		file("a.txt", "alpha beta"),
		file("b.json", `{"broken":`),
		file("c.csv", "x,y\n1,2"),
		file("d.md", "# delta"),
		file("e.yaml", "k: v"),
	}
	res := p.ParseDocuments(context.Background(), files)

	require.Len(t, res.Documents, len(files))
	for i, doc := range res.Documents {
		assert.Equal(t, i, doc.Index)
		assert.Equal(t, files[i].Name, doc.Filename)
		if doc.Filename == "b.json" {
			assert.True(t, doc.Failed())
			assert.Equal(t, 0, doc.WordCount)
			continue
		}
		assert.Empty(t, doc.ParseErrors, doc.Filename)
		assert.NotEmpty(t, doc.Content, doc.Filename)
	}
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b.json", res.Errors[0].Filename)
	assert.Equal(t, "invalid JSON", res.Errors[0].Message)
}

func TestParseDocumentsUnsupportedFormat(t *testing.T) {
	p := newTestParser(t)
	res := p.ParseDocuments(context.Background(), []models.UploadedFile{file("photo.png", "\x89PNG")})

	doc := res.Documents[0]
	assert.Equal(t, models.FormatUnknown, doc.Format)
	assert.Empty(t, doc.Content)
	assert.Equal(t, []string{"unsupported format: .png"}, doc.ParseErrors)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "unsupported format: .png", res.Errors[0].Message)
}

func TestParseDocumentsRecoversPanics(t *testing.T) {
	reg := DefaultRegistry()
	reg.Register(models.FormatText, FormatParserFunc(func(context.Context, []byte) (string, []string, error) {
		panic("boom")
	}))
	p := newTestParser(t, WithRegistry(reg))

	res := p.ParseDocuments(context.Background(), []models.UploadedFile{
		file("bad.txt", "anything"),
		file("good.md", "still fine"),
	})
	require.Len(t, res.Documents, 2)
	assert.Equal(t, []string{"parser panic: boom"}, res.Documents[0].ParseErrors)
	assert.Empty(t, res.Documents[0].Content)
	assert.Equal(t, "still fine", res.Documents[1].Content)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "bad.txt", res.Errors[0].Filename)
}

func TestParseDocumentsCorruptPDF(t *testing.T) {
	p := newTestParser(t)
	doc := p.ParseDocument(context.Background(), file("scan.pdf", "%PDF-1.4\nthis is not really a pdf"))
	assert.Equal(t, models.FormatPDF, doc.Format)
	assert.True(t, doc.Failed())
}

func TestParseDocumentsTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	reg := DefaultRegistry()
	reg.Register(models.FormatText, FormatParserFunc(func(ctx context.Context, data []byte) (string, []string, error) {
		if strings.HasPrefix(string(data), "slow") {
			select {
			case <-release:
			case <-ctx.Done():
				<-release
			}
		}
		return string(data), nil, nil
	}))
	p := newTestParser(t, WithRegistry(reg), WithTimeout(50*time.Millisecond), WithWorkers(4))

	start := time.Now()
	res := p.ParseDocuments(context.Background(), []models.UploadedFile{
		file("fast.txt", "quick"),
		file("slow.txt", "slow"),
	})
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, res.Documents, 2)
	assert.Equal(t, "quick", res.Documents[0].Content)
	assert.Equal(t, 1, res.Documents[1].Index)
	assert.Empty(t, res.Documents[1].Content)
	assert.Equal(t, []string{msgTimedOut}, res.Documents[1].ParseErrors)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "slow.txt", res.Errors[0].Filename)
}

func TestParseDocumentsBoundedParallelism(t *testing.T) {
	var running, peak int32
	reg := DefaultRegistry()
	reg.Register(models.FormatText, FormatParserFunc(func(context.Context, []byte) (string, []string, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return "ok", nil, nil
	}))
	p := newTestParser(t, WithRegistry(reg), WithWorkers(2))

	files := make([]models.UploadedFile, 8)
	for i := range files {
		files[i] = file("f.txt", "x")
	}
	res := p.ParseDocuments(context.Background(), files)
	require.Len(t, res.Documents, 8)
	assert.Empty(t, res.Errors)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestParseDocumentsCanceledContext(t *testing.T) {
	p := newTestParser(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.ParseDocuments(ctx, []models.UploadedFile{file("a.txt", "alpha")})
	require.Len(t, res.Documents, 1)
	assert.Equal(t, []string{msgCanceled}, res.Documents[0].ParseErrors)
}

func TestParseDocumentEmptyFile(t *testing.T) {
	p := newTestParser(t)
	doc := p.ParseDocument(context.Background(), file("empty.txt", ""))
	assert.Empty(t, doc.Content)
	assert.Equal(t, 0, doc.WordCount)
	assert.Empty(t, doc.ParseErrors)
	assert.False(t, doc.Failed())
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(WithTimeout(-time.Second))
	require.Error(t, err)
	_, err = New(WithRegistry(nil))
	require.Error(t, err)
}
