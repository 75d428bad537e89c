package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yungbote/projectmatch-backend/internal/domain"
	"github.com/yungbote/projectmatch-backend/internal/graph"
)

const (
	chunkSize       = 1000
	chunkOverlap    = 200
	minChunkRunes   = 10
	rankedChunkTopK = 10
)

// Separator preference for splitting requirement documents, most of
// which are Chinese prose.
var chunkSeparators = []string{"\n\n", "\n", "。", "！", "!", ".", " "}

var draftSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":              map[string]any{"type": "string"},
		"brief":              map[string]any{"type": "string"},
		"description":        map[string]any{"type": "string"},
		"research_direction": map[string]any{"type": "string"},
		"skill":              map[string]any{"type": "string"},
		"finish_time":        map[string]any{"type": "string"},
		"budget":             map[string]any{"type": "string"},
		"support_provided":   map[string]any{"type": "string"},
	},
	"required": []string{
		"title", "brief", "description", "research_direction",
		"skill", "finish_time", "budget", "support_provided",
	},
	"additionalProperties": false,
}

// ingestDocumentStep turns an uploaded requirement document into a
// publish draft. The document is chunked, the chunks most similar to
// a fixed field-oriented query are kept, and the model structures
// those excerpts into draft fields. Control then passes to the
// publish flow with the draft pre-filled.
func (s *Service) ingestDocumentStep(ctx context.Context, st *domain.ConversationState) (*graph.Delta, error) {
	text, fileName, ok := lastUserDocument(st)
	if !ok {
		return nil, fmt.Errorf("ingest step reached without a document block")
	}

	chunks := splitChunks(cleanDocumentText(text), chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		return &graph.Delta{
			AppendMessages: []domain.Message{{
				Role:    domain.RoleAssistant,
				Content: fmt.Sprintf("抱歉，文件 %s 中没有可解析的内容。", fileName),
			}},
		}, nil
	}

	ranked, err := s.rankChunks(ctx, chunks)
	if err != nil {
		// Without embeddings the leading chunks are the next best
		// excerpts; requirement documents front-load the key fields.
		s.log.Warn("chunk ranking failed", "file_name", fileName, "error", err)
		ranked = chunks
		if len(ranked) > rankedChunkTopK {
			ranked = ranked[:rankedChunkTopK]
		}
	}

	excerpts := strings.Join(ranked, "\n\n---\n\n")
	out, err := s.llm.GenerateJSON(ctx, documentStructuringSystemPrompt,
		"Document excerpts:\n"+excerpts, "requirement_draft", draftSchema)
	if err != nil {
		// The publish flow still runs; the publisher collects the
		// fields from the user instead of the document.
		s.log.Warn("document structuring failed", "file_name", fileName, "error", err)
		return &graph.Delta{
			AppendMessages: []domain.Message{{
				Role:    domain.RoleAssistant,
				Content: fmt.Sprintf("抱歉，文件 %s 解析失败，我们可以手动填写需求信息。", fileName),
			}},
		}, nil
	}
	draft := mergeDraft(st.Scratch.Draft, out)

	return &graph.Delta{
		AppendMessages: []domain.Message{{
			Role:    domain.RoleAssistant,
			Content: fmt.Sprintf("已成功解析文件：%s。正在为您准备发布草稿...", fileName),
		}},
		Scratch: &graph.ScratchPatch{Draft: &draft},
	}, nil
}

// rankChunks orders chunks by cosine similarity to the fixed ranking
// query and keeps the most field-dense ones.
func (s *Service) rankChunks(ctx context.Context, chunks []string) ([]string, error) {
	if len(chunks) <= rankedChunkTopK {
		return chunks, nil
	}

	inputs := append([]string{chunkRankingQuery}, chunks...)
	embs, err := s.llm.Embed(ctx, inputs)
	if err != nil {
		return nil, err
	}
	query := embs[0]

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, 0, len(chunks))
	for i := range chunks {
		scores = append(scores, scored{idx: i, score: cosine(query, embs[i+1])})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].idx < scores[j].idx
	})
	scores = scores[:rankedChunkTopK]

	// Keep the selected chunks in document order.
	sort.Slice(scores, func(i, j int) bool { return scores[i].idx < scores[j].idx })
	out := make([]string, 0, len(scores))
	for _, sc := range scores {
		out = append(out, chunks[sc.idx])
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cleanDocumentText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, " ", " ")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// splitChunks splits text into chunks of at most size runes with the
// given rune overlap, preferring to break at the earliest separator in
// chunkSeparators that yields pieces small enough. Chunks shorter than
// minChunkRunes are dropped as noise.
func splitChunks(text string, size, overlap int) []string {
	pieces := splitRecursive(text, chunkSeparators, size)
	merged := mergePieces(pieces, size, overlap)

	out := make([]string, 0, len(merged))
	for _, c := range merged {
		c = strings.TrimSpace(c)
		if len([]rune(c)) >= minChunkRunes {
			out = append(out, c)
		}
	}
	return out
}

// splitRecursive breaks text into pieces no longer than size runes,
// trying separators in order and keeping the separator attached to
// the preceding piece.
func splitRecursive(text string, seps []string, size int) []string {
	if len([]rune(text)) <= size {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardSplit(text, size)
	}

	sep := seps[0]
	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return splitRecursive(text, seps[1:], size)
	}

	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if len([]rune(p)) > size {
			out = append(out, splitRecursive(p, seps[1:], size)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// mergePieces packs small pieces back together into chunks close to
// the target size, carrying overlap runes of each chunk's tail into
// the next one.
func mergePieces(pieces []string, size, overlap int) []string {
	var chunks []string
	var current strings.Builder
	currentLen := 0
	added := false

	flush := func() {
		if !added {
			return
		}
		chunk := current.String()
		chunks = append(chunks, chunk)
		current.Reset()
		currentLen = 0
		added = false
		if overlap > 0 {
			runes := []rune(chunk)
			if len(runes) > overlap {
				runes = runes[len(runes)-overlap:]
			}
			tail := string(runes)
			current.WriteString(tail)
			currentLen = len([]rune(tail))
		}
	}

	for _, p := range pieces {
		pLen := len([]rune(p))
		if added && currentLen+pLen > size {
			flush()
		}
		current.WriteString(p)
		currentLen += pLen
		added = true
	}
	if added {
		chunks = append(chunks, current.String())
	}
	return chunks
}
