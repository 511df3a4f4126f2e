// Package db provides integration tests for the SurrealDB backend.
package db

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

const testDimension = 3

var testDB *Client
var testContainer testcontainers.Container

// TestMain starts a SurrealDB container unless running with -short.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx, testDimension); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close()
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// integration skips without a database and wipes data before the test.
func integration(t *testing.T) context.Context {
	t.Helper()
	if testDB == nil {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))
	return ctx
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testNode(id, root string, version int, title, text string) *models.ContentNode {
	n := &models.ContentNode{
		ID:          id,
		ContentHash: models.HashText(text),
		URI:         models.NodeURI("markdown", "", root),
		Content:     models.Content{Text: text, Format: models.FormatMarkdown},
		Metadata: models.Metadata{
			Title:     title,
			WordCount: models.WordCount(text),
			Tags:      []string{},
		},
		Source:     models.Source{Type: "markdown", Adapter: "markdown"},
		Version:    models.Version{Number: version, RootID: root, Operation: models.OperationCreate},
		InsertedAt: baseTime.Add(time.Duration(version) * time.Minute),
	}
	if version > 1 {
		n.Version.Operation = models.OperationUpdate
	}
	return n
}

func testRecord(n *models.ContentNode) *models.VersionRecord {
	return &models.VersionRecord{
		ID:            "v_" + n.ID,
		NodeID:        n.ID,
		RootID:        n.Version.RootID,
		VersionNumber: n.Version.Number,
		Operation:     n.Version.Operation,
		CreatedAt:     n.InsertedAt,
	}
}

func mustInsert(t *testing.T, ctx context.Context, n *models.ContentNode) {
	t.Helper()
	require.NoError(t, testDB.InsertNode(ctx, n, testRecord(n)))
}

func nodeIDs(nodes []models.ContentNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// =============================================================================
// PUSHDOWN (no database)
// =============================================================================

func TestFilterClause(t *testing.T) {
	from := baseTime
	minWords := 5

	tests := []struct {
		name   string
		p      store.Predicate
		want   string
		pushed bool
	}{
		{"equals", store.Equals(store.FieldSourceType, "markdown"), "source_type = $p", true},
		{"not in", store.NotIn(store.FieldSourceType, "chatgpt"), "!(source_type IN $p)", true},
		{"tag", store.Equals(store.FieldTags, "go"), "tags CONTAINS $p", true},
		{"any tag", store.In(store.FieldTags, "a", "b"), "tags CONTAINSANY $p", true},
		{"time from", store.TimeRange(&from, nil), "(sort_time >= $p_from)", true},
		{"min words", store.WordRange(&minWords, nil), "(word_count >= $p_min)", true},
		{"contains", store.Contains(store.FieldText, "Disk"), "string::contains(string::lowercase(text), $p)", true},
		{"owner", store.OwnedBy("alice"), `(owner_id = $p OR owner_id = "")`, true},
		{"wildcard", store.Contains(store.FieldText, "d*k"), "", false},
		{"regex", store.Regex(store.FieldText, "x"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := map[string]any{}
			got, ok := filterClause(tt.p, "p", vars)
			assert.Equal(t, tt.pushed, ok)
			if tt.pushed {
				assert.Equal(t, tt.want, got)
			}
		})
	}

	t.Run("contains lowercases its value", func(t *testing.T) {
		vars := map[string]any{}
		_, ok := filterClause(store.Contains(store.FieldTitle, "ÄPFEL"), "p", vars)
		require.True(t, ok)
		assert.Equal(t, "äpfel", vars["p"])
	})
}

func TestWhereClause(t *testing.T) {
	vars := map[string]any{}
	where, err := whereClause(store.FindQuery{Predicates: []store.Predicate{
		store.Equals(store.FieldSourceType, "markdown"),
	}}, vars)
	require.NoError(t, err)
	assert.Equal(t, " WHERE "+headsOnly+" AND source_type = $p0", where)

	where, err = whereClause(store.FindQuery{AllVersions: true}, map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, where)

	_, err = whereClause(store.FindQuery{Predicates: []store.Predicate{store.Regex(store.FieldText, ".")}}, map[string]any{})
	assert.Error(t, err)
}

func TestSchemaSQL(t *testing.T) {
	sql := schemaSQL(768)
	assert.Contains(t, sql, "HNSW DIMENSION 768")
	assert.NotContains(t, sql, "{{DIM}}")
}

// =============================================================================
// NODES
// =============================================================================

func TestInsertAndGetNode(t *testing.T) {
	ctx := integration(t)

	authored := baseTime.Add(-48 * time.Hour)
	n := testNode("n1", "n1", 1, "Disk usage", "check disk usage with df")
	n.Metadata.CreatedAt = &authored
	n.Metadata.Tags = []string{"ops"}
	n.Metadata.Extra = map[string]any{"lang": "en"}
	n.Anchors = []models.Anchor{{Start: 0, End: 5, Label: "verb"}}
	n.OwnerID = "alice"
	mustInsert(t, ctx, n)

	got, err := testDB.GetNode(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "check disk usage with df", got.Content.Text)
	assert.Equal(t, []string{"ops"}, got.Metadata.Tags)
	assert.Equal(t, "en", got.Metadata.Extra["lang"])
	assert.Equal(t, n.Anchors, got.Anchors)
	assert.True(t, authored.Equal(*got.Metadata.CreatedAt))
	assert.Equal(t, "alice", got.OwnerID)

	head, err := testDB.GetHead(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "n1", head.ID)

	missing, err := testDB.GetNode(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	recs, err := testDB.ListVersionRecords(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "v_n1", recs[0].ID)
}

func TestInsertVersionCompareAndSwap(t *testing.T) {
	ctx := integration(t)

	mustInsert(t, ctx, testNode("n1", "n1", 1, "", "first"))

	v2 := testNode("n2", "n1", 2, "", "second")
	v2.Version.ParentID = "n1"
	require.NoError(t, testDB.InsertVersion(ctx, v2, testRecord(v2), 1))

	stale := testNode("n3", "n1", 2, "", "racing")
	stale.Version.ParentID = "n1"
	err := testDB.InsertVersion(ctx, stale, testRecord(stale), 1)
	require.ErrorIs(t, err, store.ErrVersionConflict)

	lost, err := testDB.GetNode(ctx, "n3")
	require.NoError(t, err)
	assert.Nil(t, lost, "a losing writer leaves no row")

	head, err := testDB.GetHead(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "n2", head.ID)

	versions, err := testDB.ListVersions(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, nodeIDs(versions))
}

func TestGetNodeByHash(t *testing.T) {
	ctx := integration(t)

	mustInsert(t, ctx, testNode("a1", "a1", 1, "", "same text"))
	v2 := testNode("a2", "a1", 2, "", "same   text")
	require.NoError(t, testDB.InsertVersion(ctx, v2, testRecord(v2), 1))

	got, err := testDB.GetNodeByHash(ctx, models.HashText("same text"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a2", got.ID)
}

func TestFindNodes(t *testing.T) {
	ctx := integration(t)

	a := testNode("a", "a", 1, "Alpha", "kubernetes pod restarts")
	a.Metadata.Tags = []string{"k8s", "ops"}
	b := testNode("b", "b", 1, "Beta", "postgres vacuum tuning notes here")
	b.Source.Type = "chatgpt"
	c := testNode("c", "c", 1, "Gamma", "pod disruption budgets")
	c.OwnerID = "bob"
	for _, n := range []*models.ContentNode{a, b, c} {
		mustInsert(t, ctx, n)
	}
	five := 5

	tests := []struct {
		name  string
		preds []store.Predicate
		want  []string
	}{
		{"all heads newest first", nil, []string{"c", "b", "a"}},
		{"source", []store.Predicate{store.Equals(store.FieldSourceType, "chatgpt")}, []string{"b"}},
		{"exclude source", []store.Predicate{store.NotIn(store.FieldSourceType, "chatgpt")}, []string{"c", "a"}},
		{"tag", []store.Predicate{store.Equals(store.FieldTags, "k8s")}, []string{"a"}},
		{"contains", []store.Predicate{store.Contains(store.FieldSearchable, "POD")}, []string{"c", "a"}},
		{"title contains", []store.Predicate{store.Contains(store.FieldSearchable, "beta")}, []string{"b"}},
		{"words", []store.Predicate{store.WordRange(&five, nil)}, []string{"b"}},
		{"owner", []store.Predicate{store.OwnedBy("alice")}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := testDB.FindNodes(ctx, store.FindQuery{Predicates: tt.preds})
			require.NoError(t, err)
			assert.Equal(t, tt.want, nodeIDs(nodes))

			count, err := testDB.CountNodes(ctx, store.FindQuery{Predicates: tt.preds})
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), count)
		})
	}

	t.Run("pagination", func(t *testing.T) {
		nodes, err := testDB.FindNodes(ctx, store.FindQuery{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, nodeIDs(nodes))
	})

	t.Run("superseded rows need all versions", func(t *testing.T) {
		v2 := testNode("a2", "a", 2, "Alpha", "kubernetes pod restarts fixed")
		require.NoError(t, testDB.InsertVersion(ctx, v2, testRecord(v2), 1))

		heads, err := testDB.FindNodes(ctx, store.FindQuery{Predicates: []store.Predicate{store.Equals(store.FieldRoot, "a")}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a2"}, nodeIDs(heads))

		all, err := testDB.FindNodes(ctx, store.FindQuery{AllVersions: true, Predicates: []store.Predicate{store.Equals(store.FieldRoot, "a")}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "a2"}, nodeIDs(all))
	})
}

func TestLexicalSearch(t *testing.T) {
	ctx := integration(t)

	mustInsert(t, ctx, testNode("t", "t", 1, "Backups", "nightly job"))
	mustInsert(t, ctx, testNode("b", "b", 1, "Notes", "we run backups weekly"))
	mustInsert(t, ctx, testNode("x", "x", 1, "Other", "unrelated"))

	hits, err := testDB.LexicalSearch(ctx, "backups", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "t", hits[0].Node.ID, "title matches weigh more")
	assert.Greater(t, hits[0].Score, 0.0)

	empty, err := testDB.LexicalSearch(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// =============================================================================
// LINKS, BLOBS, BATCHES
// =============================================================================

func TestUpsertLink(t *testing.T) {
	ctx := integration(t)

	weak := 0.2
	l := &models.ContentLink{ID: "l1", SourceID: "a", TargetID: "b", Type: models.LinkReferences, Strength: &weak, CreatedAt: baseTime}
	require.NoError(t, testDB.UpsertLink(ctx, l))

	strong := 0.9
	again := &models.ContentLink{
		ID: "l2", SourceID: "a", TargetID: "b", Type: models.LinkReferences, Strength: &strong,
		SourceAnchor: &models.Anchor{Start: 1, End: 4}, CreatedAt: baseTime.Add(time.Hour),
	}
	require.NoError(t, testDB.UpsertLink(ctx, again))
	assert.Equal(t, "l1", again.ID)

	other := &models.ContentLink{ID: "l3", SourceID: "c", TargetID: "a", Type: models.LinkDerivedFrom, CreatedAt: baseTime}
	require.NoError(t, testDB.UpsertLink(ctx, other))

	out, err := testDB.FindLinks(ctx, "a", models.LinkQuery{Direction: models.DirectionOutgoing})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0.9, out[0].EffectiveStrength())
	require.NotNil(t, out[0].SourceAnchor)
	assert.Equal(t, 4, out[0].SourceAnchor.End)

	both, err := testDB.FindLinks(ctx, "a", models.LinkQuery{})
	require.NoError(t, err)
	assert.Len(t, both, 2)

	strongOnly, err := testDB.FindLinks(ctx, "a", models.LinkQuery{MinStrength: 0.95})
	require.NoError(t, err)
	assert.Len(t, strongOnly, 1, "unset strength counts as 1.0")

	derived, err := testDB.LinksByType(ctx, models.LinkDerivedFrom)
	require.NoError(t, err)
	require.Len(t, derived, 1)
	assert.Equal(t, "l3", derived[0].ID)
}

func TestBlobs(t *testing.T) {
	ctx := integration(t)

	data := []byte("hello")
	blob := &models.ContentBlob{Hash: models.HashBytes(data), MIMEType: "text/plain", Size: 5, Data: data, CreatedAt: baseTime}

	wrote, err := testDB.PutBlob(ctx, blob)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = testDB.PutBlob(ctx, blob)
	require.NoError(t, err)
	assert.False(t, wrote)

	has, err := testDB.HasBlob(ctx, blob.Hash)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := testDB.GetBlob(ctx, blob.Hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, data, got.Data)
}

func TestBatches(t *testing.T) {
	ctx := integration(t)

	b := &models.ImportBatch{ID: "b1", SourceType: "markdown", Status: models.BatchRunning, StartedAt: baseTime}
	require.NoError(t, testDB.SaveBatch(ctx, b))

	done := baseTime.Add(time.Minute)
	b.Status = models.BatchCompleted
	b.Counts = models.BatchCounts{Nodes: 3, Links: 1}
	b.CompletedAt = &done
	require.NoError(t, testDB.SaveBatch(ctx, b))
	require.NoError(t, testDB.SaveBatch(ctx, &models.ImportBatch{ID: "b2", SourceType: "chatgpt", Status: models.BatchPending, StartedAt: done}))

	got, err := testDB.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.BatchCompleted, got.Status)
	assert.Equal(t, 3, got.Counts.Nodes)

	list, err := testDB.ListBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b2", list[0].ID)
}

// =============================================================================
// EMBEDDINGS AND PYRAMIDS
// =============================================================================

func TestEmbeddings(t *testing.T) {
	ctx := integration(t)

	a := testNode("a", "a", 1, "", "alpha")
	b := testNode("b", "b", 1, "", "beta")
	mustInsert(t, ctx, a)
	mustInsert(t, ctx, b)

	require.NoError(t, testDB.PutEmbedding(ctx, &models.NodeEmbedding{NodeID: "a", ContentHash: a.ContentHash, Model: "m", Vector: []float32{1, 0, 0}, CreatedAt: baseTime}))
	require.NoError(t, testDB.PutEmbedding(ctx, &models.NodeEmbedding{NodeID: "b", ContentHash: "stale", Model: "m", Vector: []float32{0, 1, 0}, CreatedAt: baseTime}))

	need, err := testDB.NodesNeedingEmbedding(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, nodeIDs(need))

	got, err := testDB.GetEmbedding(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float32{1, 0, 0}, got.Vector)

	nearest, err := testDB.NearestNodes(ctx, []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, nearest, 1)
	assert.Equal(t, "a", nearest[0].Node.ID)

	embedded, err := testDB.EmbeddedNodes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, nodeIDs(embedded))

	deleted, err := testDB.DeleteEmbeddings(ctx, []string{"b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestPyramidReplace(t *testing.T) {
	ctx := integration(t)

	build := func(text string) *models.Pyramid {
		p := &models.Pyramid{
			ThreadID: "thread",
			Chunks: []models.PyramidChunk{
				{ID: "thread_c0", Seq: 0, Text: text, End: len(text), Boundary: "paragraph", WordCount: 1, Embedding: []float32{1, 0, 0}},
				{ID: "thread_c1", Seq: 1, Text: "other", Boundary: "end", WordCount: 1, Embedding: []float32{0, 1, 0}},
			},
			Summaries: []models.PyramidSummary{{ID: "thread_s0", Seq: 0, Text: "sum", ChildIDs: []string{"thread_c0", "thread_c1"}, SourceWords: 2, WordCount: 1, CompressionRatio: 2}},
			Apex:      &models.PyramidApex{ID: "thread_apex", Text: "apex", ChildIDs: []string{"thread_s0"}, Extractive: true},
			BuiltAt:   baseTime,
		}
		p.Depth = p.ComputeDepth()
		return p
	}

	require.NoError(t, testDB.SavePyramid(ctx, build("first")))
	require.NoError(t, testDB.SavePyramid(ctx, build("second")))

	got, err := testDB.GetPyramid(ctx, "thread")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Depth)
	require.Len(t, got.Chunks, 2)
	assert.Equal(t, "second", got.Chunks[0].Text)
	require.NotNil(t, got.Apex)
	assert.Nil(t, got.Apex.Embedding)

	hits, err := testDB.NearestPyramid(ctx, models.TierChunk, []float32{0, 1, 0}, 1, "thread")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "thread_c1", hits[0].ID)

	missing, err := testDB.GetPyramid(ctx, "none")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
