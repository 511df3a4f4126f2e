package service_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/service"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const alphaBody = "Alpha links to [[Beta]] and keeps going.\n"

func notesDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alpha.md"), "---\ntitle: Alpha\ntags: [work, notes]\ndate: 2024-01-02\nauthor: ana\nstatus: draft\n---\n"+alphaBody)
	writeFile(t, filepath.Join(dir, "beta.md"), "# Beta\n\nBeta points back at [[alpha|the alpha note]] and at [[Missing]].\n")
	writeFile(t, filepath.Join(dir, "copy.md"), "---\ntitle: Copy\n---\n"+alphaBody)
	writeFile(t, filepath.Join(dir, "sub", "gamma.md"), "Gamma sits in a subdirectory.\n")
	writeFile(t, filepath.Join(dir, "readme.txt"), "not markdown")
	return dir
}

func newIngest(st *store.Store) *service.IngestService {
	return service.NewIngestService(st, service.NewBatchTracker(st, nil), nil)
}

func TestCollectFiles(t *testing.T) {
	dir := notesDir(t)

	flat, err := service.CollectFiles(dir, false)
	require.NoError(t, err)
	assert.Len(t, flat, 3)

	all, err := service.CollectFiles(dir, true)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestImportMarkdown(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	svc := newIngest(st)
	dir := notesDir(t)

	var progress atomic.Int32
	res, err := svc.ImportMarkdown(ctx, dir, service.IngestOptions{
		Concurrency: 1,
		Tags:        []string{"imported", "work"},
		OnProgress:  func(done, total int) { progress.Store(int32(done)) },
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Items)
	assert.Equal(t, 2, res.Nodes)
	assert.Equal(t, 1, res.Skipped, "copy.md repeats alpha's content")
	assert.Equal(t, 2, res.Links)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int32(3), progress.Load())

	nodes, err := st.QueryNodes(ctx, store.NodeQuery{SourceTypes: []string{service.SourceMarkdown}})
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	byTitle := map[string]models.ContentNode{}
	for _, n := range nodes {
		byTitle[n.Metadata.Title] = n
	}
	alpha, beta := byTitle["Alpha"], byTitle["Beta"]
	require.NotEmpty(t, alpha.ID)
	require.NotEmpty(t, beta.ID)

	assert.Equal(t, []string{"work", "notes", "imported"}, alpha.Metadata.Tags)
	assert.Equal(t, "ana", alpha.Metadata.Author)
	require.NotNil(t, alpha.Metadata.CreatedAt)
	assert.Equal(t, 2024, alpha.Metadata.CreatedAt.Year())
	assert.Equal(t, "draft", alpha.Metadata.Extra["status"])
	assert.Equal(t, "alpha.md", alpha.Source.OriginalID)
	assert.Equal(t, res.BatchID, alpha.Source.BatchID)
	assert.Equal(t, models.OperationImport, alpha.Version.Operation)

	out, err := st.GetLinks(ctx, alpha.ID, models.LinkQuery{Direction: models.DirectionOutgoing})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, beta.ID, out[0].TargetID)
	assert.Equal(t, models.LinkReferences, out[0].Type)

	in, err := st.GetLinks(ctx, alpha.ID, models.LinkQuery{Direction: models.DirectionIncoming})
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, beta.ID, in[0].SourceID)

	batch, err := st.GetBatch(ctx, res.BatchID)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, models.BatchCompleted, batch.Status)
	assert.Equal(t, models.BatchCounts{Nodes: 2, Skipped: 1, Links: 2}, batch.Counts)
	assert.NotNil(t, batch.CompletedAt)

	t.Run("reimport skips everything", func(t *testing.T) {
		again, err := svc.ImportMarkdown(ctx, dir, service.IngestOptions{Recursive: true})
		require.NoError(t, err)
		assert.Equal(t, 1, again.Nodes, "only the subdirectory note is new")
		assert.Equal(t, 3, again.Skipped)
	})
}

func TestImportMarkdownMissingDir(t *testing.T) {
	_, err := newIngest(newStore(t)).ImportMarkdown(context.Background(), filepath.Join(t.TempDir(), "nope"), service.IngestOptions{})
	require.Error(t, err)
}

const chatJSON = `[
  {
    "id": "conv-1",
    "title": "Log rotation",
    "messages": [
      {"id": "m1", "role": "user", "author": "sam", "text": "How do I rotate logs?", "created_at": "2024-03-01T10:00:00Z"},
      {"id": "m2", "role": "assistant", "text": "Use logrotate with a daily schedule.", "created_at": "2024-03-01T10:00:05Z"},
      {"id": "m3", "role": "user", "text": "   "},
      {"id": "m4", "role": "user", "author": "sam", "text": "And compression?", "created_at": "2024-03-01T10:01:00Z"},
      {"id": "m5", "role": "assistant", "text": "Add the compress directive.", "created_at": "2024-03-01T10:01:04Z"}
    ]
  },
  {"id": "conv-2", "title": "Empty", "messages": []}
]`

func TestImportChat(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	svc := newIngest(st)
	path := filepath.Join(t.TempDir(), "export.json")
	writeFile(t, path, chatJSON)

	res, err := svc.ImportChat(ctx, path, service.IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Items)
	assert.Equal(t, 5, res.Nodes, "one thread and four messages")
	assert.Equal(t, 1, res.Skipped, "the empty conversation")
	assert.Equal(t, 4+4+3+2, res.Links)

	threads, err := st.QueryNodes(ctx, store.NodeQuery{SourceTypes: []string{service.SourceChatThread}})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	thread := threads[0]
	assert.Equal(t, "Log rotation", thread.Metadata.Title)
	assert.True(t, strings.HasPrefix(thread.Content.Text, "**User:** How do I rotate logs?"))
	assert.Contains(t, thread.Content.Text, "**Assistant:** Add the compress directive.")

	children, err := st.GetLinks(ctx, thread.ID, models.LinkQuery{Direction: models.DirectionOutgoing, Types: []models.LinkType{models.LinkChild}})
	require.NoError(t, err)
	assert.Len(t, children, 4)

	msgs, err := st.QueryNodes(ctx, store.NodeQuery{SourceTypes: []string{service.SourceChatMessage}})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	byOriginal := map[string]models.ContentNode{}
	for _, m := range msgs {
		byOriginal[m.Source.OriginalID] = m
	}
	assert.Equal(t, "assistant", byOriginal["m5"].Metadata.Extra["role"])
	assert.Equal(t, "sam", byOriginal["m4"].Metadata.Author)

	replies, err := st.GetLinks(ctx, byOriginal["m5"].ID, models.LinkQuery{Direction: models.DirectionOutgoing, Types: []models.LinkType{models.LinkRespondsTo}})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, byOriginal["m4"].ID, replies[0].TargetID)

	follows, err := st.GetLinks(ctx, byOriginal["m4"].ID, models.LinkQuery{Direction: models.DirectionOutgoing, Types: []models.LinkType{models.LinkFollows}})
	require.NoError(t, err)
	require.Len(t, follows, 1)
	assert.Equal(t, byOriginal["m2"].ID, follows[0].TargetID)

	t.Run("reimport skips known transcripts", func(t *testing.T) {
		again, err := svc.ImportChat(ctx, path, service.IngestOptions{})
		require.NoError(t, err)
		assert.Zero(t, again.Nodes)
		assert.Equal(t, 2, again.Skipped)
	})
}

func TestParseChatExport(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"single object", `{"id": "c", "messages": [{"role": "user", "text": "hi"}]}`, 1, false},
		{"array", chatJSON, 2, false},
		{"empty", "  ", 0, true},
		{"malformed", `{"id":`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			convs, err := service.ParseChatExport([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, convs, tt.want)
		})
	}
}
