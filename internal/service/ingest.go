package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/contentgraph/internal/models"
	"github.com/raphaelgruber/contentgraph/internal/parser"
	"github.com/raphaelgruber/contentgraph/internal/store"
)

// Source types written by the importers.
const (
	SourceMarkdown    = "markdown"
	SourceChatThread  = "chat"
	SourceChatMessage = "chat-message"
)

const chatAdapter = "chat-json"

// IngestService imports external content into the store.
type IngestService struct {
	store   *store.Store
	tracker *BatchTracker
	logger  *slog.Logger
}

// NewIngestService creates an ingest service. logger defaults to slog.Default().
func NewIngestService(st *store.Store, tracker *BatchTracker, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{store: st, tracker: tracker, logger: logger}
}

// IngestOptions configures an import.
type IngestOptions struct {
	// Tags are added to every imported node.
	Tags []string
	// Recursive descends into subdirectories.
	Recursive bool
	// Concurrency sets the number of workers (default 4).
	Concurrency int
	OwnerID     string
	Operator    string
	// OnProgress is called after each item, from worker goroutines.
	OnProgress func(done, total int)
}

func (o IngestOptions) workers() int {
	if o.Concurrency <= 0 {
		return 4
	}
	return o.Concurrency
}

// IngestResult summarizes an import.
type IngestResult struct {
	BatchID string
	Items   int
	Nodes   int
	Skipped int
	Links   int
	Errors  []string
}

// ingestCounters aggregates worker results.
type ingestCounters struct {
	done, nodes, skipped, links atomic.Int32
	errorsMu                    sync.Mutex
	errors                      []string
}

func (c *ingestCounters) fail(item string, err error) {
	c.errorsMu.Lock()
	c.errors = append(c.errors, fmt.Sprintf("%s: %v", item, err))
	c.errorsMu.Unlock()
}

func (c *ingestCounters) result(batchID string, items int) *IngestResult {
	return &IngestResult{
		BatchID: batchID,
		Items:   items,
		Nodes:   int(c.nodes.Load()),
		Skipped: int(c.skipped.Load()),
		Links:   int(c.links.Load()),
		Errors:  c.errors,
	}
}

// runPool calls fn for every item on n workers and stops handing out work
// once ctx is done.
func runPool[T any](ctx context.Context, n int, items []T, fn func(T)) {
	work := make(chan T, len(items))
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if ctx.Err() != nil {
					return
				}
				fn(item)
			}
		}()
	}
	for _, item := range items {
		work <- item
	}
	close(work)
	wg.Wait()
}

// CollectFiles walks a directory and returns all markdown files.
func CollectFiles(dirPath string, recursive bool) ([]string, error) {
	var files []string
	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && !recursive && path != dirPath {
			return filepath.SkipDir
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !d.IsDir() && (ext == ".md" || ext == ".markdown") {
			files = append(files, path)
		}
		return nil
	}

	if err := filepath.WalkDir(dirPath, walkFn); err != nil {
		return nil, fmt.Errorf("scan directory: %w", err)
	}
	return files, nil
}

// noteRef is what wiki-link resolution needs from an imported note.
type noteRef struct {
	nodeID string
	names  []string
	links  []string
}

// ImportMarkdown imports every markdown file under dir as one node, skipping
// content already stored, then links notes that reference each other with
// [[wiki links]]. Per-file failures are counted and do not stop the batch.
func (s *IngestService) ImportMarkdown(ctx context.Context, dir string, opts IngestOptions) (*IngestResult, error) {
	files, err := CollectFiles(dir, opts.Recursive)
	if err != nil {
		return nil, err
	}
	batch, err := s.tracker.Start(ctx, SourceMarkdown, dir)
	if err != nil {
		return nil, fmt.Errorf("import markdown: %w", err)
	}
	s.logger.Info("importing markdown", "dir", dir, "files", len(files), "batch_id", batch.ID())

	var (
		counters ingestCounters
		refsMu   sync.Mutex
		refs     []noteRef
	)
	runPool(ctx, opts.workers(), files, func(path string) {
		ref, created, err := s.importNote(ctx, dir, path, batch.ID(), opts)
		delta := models.BatchCounts{}
		switch {
		case err != nil:
			counters.fail(path, err)
			delta.Errors = 1
			s.logger.Warn("failed to import note", "path", path, "error", err)
		case created:
			counters.nodes.Add(1)
			delta.Nodes = 1
		default:
			counters.skipped.Add(1)
			delta.Skipped = 1
		}
		if ref != nil {
			refsMu.Lock()
			refs = append(refs, *ref)
			refsMu.Unlock()
		}
		s.tracker.Add(ctx, batch, delta)
		done := int(counters.done.Add(1))
		if opts.OnProgress != nil {
			opts.OnProgress(done, len(files))
		}
	})

	if err := ctx.Err(); err != nil {
		s.tracker.Fail(ctx, batch, err)
		return counters.result(batch.ID(), len(files)), err
	}

	links := s.linkNotes(ctx, refs, opts.Operator)
	counters.links.Add(int32(links))
	s.tracker.Add(ctx, batch, models.BatchCounts{Links: links})

	if err := s.tracker.Complete(ctx, batch); err != nil {
		return nil, fmt.Errorf("import markdown: %w", err)
	}
	return counters.result(batch.ID(), len(files)), nil
}

// importNote stores one file. It returns the note's reference data for link
// resolution, and whether a node was created.
func (s *IngestService) importNote(ctx context.Context, dir, path, batchID string, opts IngestOptions) (*noteRef, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read file: %w", err)
	}
	doc := parser.ParseMarkdown(string(raw))
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	title := doc.Title
	if title == "" {
		title = base
	}
	ref := &noteRef{names: []string{title, base}, links: parser.ExtractWikiLinks(doc.Content)}

	existing, err := s.store.GetNodeByHash(ctx, models.HashText(doc.Content))
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		ref.nodeID = existing.ID
		return ref, false, nil
	}

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = path
	}
	created := doc.GetFrontmatterTime("date")
	if created == nil {
		created = doc.GetFrontmatterTime("created")
	}
	tags := doc.GetFrontmatterStringSlice("tags")
	tags = append(tags, opts.Tags...)

	node, err := s.store.CreateNode(ctx, models.NodeInput{
		Text:   doc.Content,
		Format: models.FormatMarkdown,
		Metadata: models.Metadata{
			Title:     title,
			Author:    doc.GetFrontmatterString("author"),
			CreatedAt: created,
			Tags:      dedupe(tags),
			Extra:     frontmatterExtra(doc.Frontmatter),
		},
		Source: models.Source{
			Type:         SourceMarkdown,
			Adapter:      SourceMarkdown,
			OriginalID:   filepath.ToSlash(rel),
			OriginalPath: path,
			BatchID:      batchID,
		},
		OwnerID:  opts.OwnerID,
		Operator: opts.Operator,
	})
	if err != nil {
		return nil, false, err
	}
	ref.nodeID = node.ID
	return ref, true, nil
}

// frontmatterExtra keeps frontmatter keys that have no metadata field.
func frontmatterExtra(fm map[string]any) map[string]any {
	extra := make(map[string]any)
	for k, v := range fm {
		switch k {
		case "title", "name", "tags", "author", "date", "created":
			continue
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339)
		}
		extra[k] = v
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// linkNotes resolves wiki links by title or file name, case-insensitively,
// and stores a references link for each hit.
func (s *IngestService) linkNotes(ctx context.Context, refs []noteRef, operator string) int {
	byName := make(map[string]string, len(refs)*2)
	for _, r := range refs {
		for _, name := range r.names {
			byName[strings.ToLower(name)] = r.nodeID
		}
	}

	created := 0
	seen := make(map[[2]string]bool)
	for _, r := range refs {
		for _, target := range r.links {
			targetID, ok := byName[strings.ToLower(target)]
			pair := [2]string{r.nodeID, targetID}
			if !ok || targetID == r.nodeID || seen[pair] {
				continue
			}
			seen[pair] = true
			_, err := s.store.CreateLink(ctx, models.LinkInput{
				SourceID:  r.nodeID,
				TargetID:  targetID,
				Type:      models.LinkReferences,
				CreatedBy: operator,
				Metadata:  map[string]any{"wiki_link": target},
			})
			if err != nil {
				s.logger.Warn("failed to link notes", "source", r.nodeID, "target", targetID, "error", err)
				continue
			}
			created++
		}
	}
	return created
}

// ChatExport is one conversation of a chat export file.
type ChatExport struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage is one message of a ChatExport.
type ChatMessage struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Author    string     `json:"author"`
	Text      string     `json:"text"`
	CreatedAt *time.Time `json:"created_at"`
}

// ParseChatExport decodes a single conversation object or an array of them.
func ParseChatExport(data []byte) ([]ChatExport, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty chat export", store.ErrInvalidInput)
	}
	if trimmed[0] == '[' {
		var convs []ChatExport
		if err := json.Unmarshal(trimmed, &convs); err != nil {
			return nil, fmt.Errorf("parse chat export: %w", err)
		}
		return convs, nil
	}
	var conv ChatExport
	if err := json.Unmarshal(trimmed, &conv); err != nil {
		return nil, fmt.Errorf("parse chat export: %w", err)
	}
	return []ChatExport{conv}, nil
}

// ImportChat imports a chat export. Each conversation becomes a thread node
// holding the role-marked transcript plus one node per message, linked
// child/parent to the thread, follows between consecutive messages and
// responds-to from a reply to the message it answers.
func (s *IngestService) ImportChat(ctx context.Context, path string, opts IngestOptions) (*IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("import chat: %w", err)
	}
	convs, err := ParseChatExport(data)
	if err != nil {
		return nil, err
	}
	batch, err := s.tracker.Start(ctx, SourceChatThread, path)
	if err != nil {
		return nil, fmt.Errorf("import chat: %w", err)
	}
	s.logger.Info("importing chat", "path", path, "conversations", len(convs), "batch_id", batch.ID())

	var counters ingestCounters
	runPool(ctx, opts.workers(), convs, func(conv ChatExport) {
		delta, err := s.importConversation(ctx, path, batch.ID(), conv, opts)
		if err != nil {
			counters.fail(conversationLabel(conv), err)
			delta.Errors++
			s.logger.Warn("failed to import conversation", "conversation", conversationLabel(conv), "error", err)
		}
		counters.nodes.Add(int32(delta.Nodes))
		counters.skipped.Add(int32(delta.Skipped))
		counters.links.Add(int32(delta.Links))
		s.tracker.Add(ctx, batch, delta)
		done := int(counters.done.Add(1))
		if opts.OnProgress != nil {
			opts.OnProgress(done, len(convs))
		}
	})

	if err := ctx.Err(); err != nil {
		s.tracker.Fail(ctx, batch, err)
		return counters.result(batch.ID(), len(convs)), err
	}
	if err := s.tracker.Complete(ctx, batch); err != nil {
		return nil, fmt.Errorf("import chat: %w", err)
	}
	return counters.result(batch.ID(), len(convs)), nil
}

func conversationLabel(conv ChatExport) string {
	if conv.ID != "" {
		return conv.ID
	}
	return conv.Title
}

// importConversation stores one conversation. A transcript already stored
// is skipped as a whole. Counts reflect what was written before any error.
func (s *IngestService) importConversation(ctx context.Context, path, batchID string, conv ChatExport, opts IngestOptions) (models.BatchCounts, error) {
	var counts models.BatchCounts

	var msgs []ChatMessage
	for _, m := range conv.Messages {
		if strings.TrimSpace(m.Text) != "" {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		counts.Skipped++
		return counts, nil
	}

	turns := make([]parser.Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = parser.Turn{Role: m.Role, Text: m.Text}
	}
	transcript := parser.FormatTranscript(turns)

	existing, err := s.store.GetNodeByHash(ctx, models.HashText(transcript))
	if err != nil {
		return counts, err
	}
	if existing != nil {
		counts.Skipped++
		return counts, nil
	}

	thread, err := s.store.CreateNode(ctx, models.NodeInput{
		Text:   transcript,
		Format: models.FormatMarkdown,
		Metadata: models.Metadata{
			Title:     conv.Title,
			CreatedAt: msgs[0].CreatedAt,
			Tags:      dedupe(opts.Tags),
			Extra:     map[string]any{"messages": len(msgs)},
		},
		Source: models.Source{
			Type:         SourceChatThread,
			Adapter:      chatAdapter,
			OriginalID:   conv.ID,
			OriginalPath: path,
			BatchID:      batchID,
		},
		OwnerID:  opts.OwnerID,
		Operator: opts.Operator,
	})
	if err != nil {
		return counts, err
	}
	counts.Nodes++

	link := func(source, target string, typ models.LinkType) error {
		if _, err := s.store.CreateLink(ctx, models.LinkInput{SourceID: source, TargetID: target, Type: typ, CreatedBy: opts.Operator}); err != nil {
			return err
		}
		counts.Links++
		return nil
	}

	var prevID, lastUserID string
	for i, m := range msgs {
		role := strings.ToLower(m.Role)
		node, err := s.store.CreateNode(ctx, models.NodeInput{
			Text:   m.Text,
			Format: models.FormatText,
			Metadata: models.Metadata{
				Title:     fmt.Sprintf("%s #%d", conv.Title, i+1),
				Author:    m.Author,
				CreatedAt: m.CreatedAt,
				Tags:      dedupe(opts.Tags),
				Extra:     map[string]any{"role": role, "seq": i},
			},
			Source: models.Source{
				Type:         SourceChatMessage,
				Adapter:      chatAdapter,
				OriginalID:   m.ID,
				OriginalPath: path,
				BatchID:      batchID,
			},
			OwnerID:  opts.OwnerID,
			Operator: opts.Operator,
		})
		if err != nil {
			return counts, err
		}
		counts.Nodes++

		if err := link(thread.ID, node.ID, models.LinkChild); err != nil {
			return counts, err
		}
		if err := link(node.ID, thread.ID, models.LinkParent); err != nil {
			return counts, err
		}
		if prevID != "" {
			if err := link(node.ID, prevID, models.LinkFollows); err != nil {
				return counts, err
			}
		}
		if role != "user" && role != "human" && lastUserID != "" {
			if err := link(node.ID, lastUserID, models.LinkRespondsTo); err != nil {
				return counts, err
			}
		}

		prevID = node.ID
		if role == "user" || role == "human" {
			lastUserID = node.ID
		}
	}
	return counts, nil
}

// dedupe drops empty and repeated tags, keeping order.
func dedupe(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
