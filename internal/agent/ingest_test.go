package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/yungbote/projectmatch-backend/internal/domain"
)

func TestSplitChunksRespectsSizeAndDropsNoise(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "第%d段：本项目面向校园场景，需要完成智能问答系统的设计与实现。", i)
		sb.WriteString("\n\n")
	}
	sb.WriteString("短\n\n")

	chunks := splitChunks(sb.String(), 200, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 260 {
			t.Fatalf("chunk %d has %d runes, exceeds size plus overlap", i, n)
		}
		if len([]rune(strings.TrimSpace(c))) < minChunkRunes {
			t.Fatalf("chunk %d shorter than %d runes: %q", i, minChunkRunes, c)
		}
	}
}

func TestSplitChunksCarriesOverlap(t *testing.T) {
	text := strings.Repeat("甲乙丙丁戊己庚辛。", 60)
	chunks := splitChunks(text, 100, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevTail := []rune(chunks[i-1])
		tail := string(prevTail[len(prevTail)-10:])
		if !strings.Contains(chunks[i], tail) {
			t.Fatalf("chunk %d does not carry the previous tail", i)
		}
	}
}

func TestSplitChunksShortTextSingleChunk(t *testing.T) {
	chunks := splitChunks("本项目需要完成一个图书管理系统。", 1000, 200)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Fatalf("identical vectors: %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 0}); got != 0 {
		t.Fatalf("zero vector: %f", got)
	}
}

func TestIngestDocumentPreparesDraftAndEntersPublishFlow(t *testing.T) {
	doc := strings.Join([]string{
		"项目标题：智能图书馆管理系统",
		"项目简介：为校园图书馆构建智能化管理平台。",
		"详细描述：系统需要支持图书检索、借阅管理与个性化推荐，后端采用Go语言开发。",
		"预算：30万元",
	}, "\n\n")

	llmClient := &fakeLLM{
		generateJSON: func(system, user, schemaName string) (map[string]any, error) {
			switch schemaName {
			case "requirement_draft":
				if !strings.Contains(user, "智能图书馆管理系统") {
					return nil, fmt.Errorf("document excerpts missing from prompt")
				}
				return map[string]any{
					"title":              "智能图书馆管理系统",
					"brief":              "校园图书馆智能化管理平台",
					"description":        "支持图书检索、借阅管理与个性化推荐。",
					"research_direction": "",
					"skill":              "Go",
					"finish_time":        "",
					"budget":             "30",
					"support_provided":   "",
				}, nil
			case "publisher_turn":
				return publisherOutput("我已从文件中提取了标题和描述，请确认预算与完成时间。", toolNone, nil), nil
			}
			return nil, fmt.Errorf("unexpected schema %q", schemaName)
		},
	}
	h := newHarness(t, llmClient, nil, nil)

	st, err := h.runner.Turn(context.Background(), "t-ingest", domain.Message{
		Role: domain.RoleUser,
		Blocks: []domain.ContentBlock{
			{Type: "text", Text: "请帮我解析这份需求文件"},
			{Type: "document", Text: doc, FileName: "需求模板.docx"},
		},
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}

	if st.Scratch.Draft.Title != "智能图书馆管理系统" {
		t.Fatalf("draft title = %q", st.Scratch.Draft.Title)
	}
	if st.Scratch.Draft.Budget != "30" {
		t.Fatalf("draft budget = %q", st.Scratch.Draft.Budget)
	}

	var parsedMsg bool
	for _, m := range st.Messages {
		if m.Role == domain.RoleAssistant && strings.Contains(m.Content, "已成功解析文件：需求模板.docx") {
			parsedMsg = true
		}
	}
	if !parsedMsg {
		t.Fatalf("parse confirmation message missing: %+v", st.Messages)
	}
	if msg := lastMessage(t, st); !strings.Contains(msg.Content, "请确认") {
		t.Fatalf("publish flow did not follow ingestion: %q", msg.Content)
	}
}
