package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/rag4all/ragchat/internal/docstore"
	"github.com/rag4all/ragchat/internal/llm"
	"github.com/rag4all/ragchat/internal/retriever"
)

type recordingProvider struct {
	last     []llm.Message
	lastOpts llm.Options
	reply    string
	err      error
}

func (p *recordingProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	_ = ctx
	p.last = append([]llm.Message(nil), messages...)
	p.lastOpts = opts
	if p.err != nil {
		return "", p.err
	}
	if p.reply == "" {
		return "ok", nil
	}
	return p.reply, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type memStore struct {
	docstore.Unavailable
	results []docstore.SearchResult
	deleted []string // "chatID/fileName"
}

func (m *memStore) SimilaritySearch(ctx context.Context, chatID string, vec []float32, threshold float64, topK int) ([]docstore.SearchResult, error) {
	return m.results, nil
}

func (m *memStore) DeleteChunks(ctx context.Context, chatID, fileName string) error {
	m.deleted = append(m.deleted, chatID+"/"+fileName)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named in-memory database keeps every pooled connection on the same
	// store while isolating tests from each other.
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, prov *recordingProvider, store *memStore) *Service {
	t.Helper()
	reg := llm.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (llm.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	var ret *retriever.Retriever
	if store != nil {
		ret = retriever.New(fakeEmbedder{}, store)
	}
	var repo *Repo
	if db != nil {
		repo = NewRepo(db)
	}
	var docs docstore.Store
	if store != nil {
		docs = store
	}
	return NewService(repo, ret, reg, docs, nil, ServiceConfig{
		Provider: "fake",
		GenOpts:  llm.DefaultOptions(),
		Window:   10,
	})
}

func TestSendMessage_MaterializesSessionOnFirstMessage(t *testing.T) {
	db := openTestDB(t)
	prov := &recordingProvider{}
	svc := newTestService(t, db, prov, &memStore{})

	res, err := svc.SendMessage(context.Background(), "", "Hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if res.ChatID == "" {
		t.Fatalf("expected a chat id")
	}
	if !res.Created {
		t.Fatalf("first send must create the session")
	}
	if res.Reply != "ok" {
		t.Fatalf("unexpected reply %q", res.Reply)
	}

	var sess Session
	if err := db.First(&sess, "id = ?", res.ChatID).Error; err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if !strings.HasPrefix(sess.Title, "New Chat ") {
		t.Fatalf("unexpected default title %q", sess.Title)
	}

	var msgs []Message
	if err := db.Where("chat_id = ?", res.ChatID).Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "Hello" {
		t.Fatalf("unexpected user msg: %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "ok" {
		t.Fatalf("unexpected assistant msg: %+v", msgs[1])
	}
}

func TestSendMessage_SecondSendReusesSession(t *testing.T) {
	db := openTestDB(t)
	prov := &recordingProvider{}
	svc := newTestService(t, db, prov, &memStore{})

	first, err := svc.SendMessage(context.Background(), "", "one")
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := svc.SendMessage(context.Background(), first.ChatID, "two")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if second.Created {
		t.Fatalf("second send must not create a session")
	}

	var count int64
	db.Model(&Session{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 session, got %d", count)
	}
}

func TestSendMessage_InjectsRetrievedContextIntoSystemMessage(t *testing.T) {
	db := openTestDB(t)
	prov := &recordingProvider{}
	store := &memStore{results: []docstore.SearchResult{{Content: "the sky is green here", Similarity: 0.9}}}
	svc := newTestService(t, db, prov, store)

	if _, err := svc.SendMessage(context.Background(), "", "what color is the sky?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(prov.last) == 0 || prov.last[0].Role != "system" {
		t.Fatalf("provider must receive a leading system message")
	}
	if !strings.Contains(prov.last[0].Content, "the sky is green here") {
		t.Fatalf("retrieved chunk missing from system message:\n%s", prov.last[0].Content)
	}
}

func TestSendMessage_NoDocumentsMeansBaseSystemMessage(t *testing.T) {
	db := openTestDB(t)
	prov := &recordingProvider{}
	svc := newTestService(t, db, prov, &memStore{}) // empty results

	if _, err := svc.SendMessage(context.Background(), "", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(prov.last[0].Content, "---") {
		t.Fatalf("no context block expected without retrieved chunks")
	}
}

func TestSendMessage_HistoryWindowNeverExceedsTwelve(t *testing.T) {
	db := openTestDB(t)
	prov := &recordingProvider{}
	svc := newTestService(t, db, prov, &memStore{})

	res, err := svc.SendMessage(context.Background(), "", "m0")
	if err != nil {
		t.Fatalf("seed send: %v", err)
	}
	for i := 1; i < 15; i++ {
		if _, err := svc.SendMessage(context.Background(), res.ChatID, "more"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if len(prov.last) > 12 {
		t.Fatalf("provider received %d messages, cap is 12", len(prov.last))
	}
	if prov.last[0].Role != "system" {
		t.Fatalf("first message must be system")
	}
}

func TestSendMessage_ProviderFailureBecomesInlineReply(t *testing.T) {
	db := openTestDB(t)
	prov := &recordingProvider{err: errors.New("status 401")}
	svc := newTestService(t, db, prov, &memStore{})

	res, err := svc.SendMessage(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("send must not fail on generation error: %v", err)
	}
	if !strings.HasPrefix(res.Reply, "Error:") {
		t.Fatalf("expected inline error reply, got %q", res.Reply)
	}

	// The inline error is stored as the assistant turn, like the original.
	var msgs []Message
	db.Where("chat_id = ? AND role = ?", res.ChatID, "assistant").Find(&msgs)
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Content, "Error:") {
		t.Fatalf("inline error should be persisted as assistant message")
	}
}

func TestSendMessage_NoPersistenceStillGenerates(t *testing.T) {
	prov := &recordingProvider{reply: "ephemeral"}
	svc := newTestService(t, nil, prov, &memStore{})

	res, err := svc.SendMessage(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Reply != "ephemeral" {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
	if res.MessageID != 0 {
		t.Fatalf("no message id without persistence")
	}
}

func TestDeleteSession_CascadesMessagesAndChunks(t *testing.T) {
	db := openTestDB(t)
	prov := &recordingProvider{}
	store := &memStore{}
	svc := newTestService(t, db, prov, store)

	res, err := svc.SendMessage(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := svc.DeleteSession(context.Background(), res.ChatID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var count int64
	db.Model(&Message{}).Where("chat_id = ?", res.ChatID).Count(&count)
	if count != 0 {
		t.Fatalf("messages survived deletion: %d", count)
	}
	if len(store.deleted) != 1 || store.deleted[0] != res.ChatID+"/" {
		t.Fatalf("chunk cascade missing: %v", store.deleted)
	}

	if err := svc.DeleteSession(context.Background(), res.ChatID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestListMessages_UnknownSession(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &recordingProvider{}, &memStore{})

	if _, err := svc.ListMessages(context.Background(), "01UNKNOWN0000000000000000X", 10, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRenameSession_UpdatesTitle(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &recordingProvider{}, &memStore{})

	res, err := svc.SendMessage(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.RenameSession(context.Background(), res.ChatID, "Budget questions"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	var sess Session
	if err := db.First(&sess, "id = ?", res.ChatID).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.Title != "Budget questions" {
		t.Fatalf("title not updated: %q", sess.Title)
	}
}

func TestSendMessage_PerRequestGenerationOverrides(t *testing.T) {
	prov := &recordingProvider{}
	svc := newTestService(t, nil, prov, nil)

	temp := 0.1
	maxTokens := 42
	_, err := svc.SendMessageWithOptions(context.Background(), "", "hi", GenOverrides{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if prov.lastOpts.Temperature != 0.1 || prov.lastOpts.MaxTokens != 42 {
		t.Fatalf("opts not overridden: %+v", prov.lastOpts)
	}
	// defaults stay untouched for the next plain send
	if _, err := svc.SendMessage(context.Background(), "", "hi again"); err != nil {
		t.Fatalf("send: %v", err)
	}
	def := llm.DefaultOptions()
	if prov.lastOpts.Temperature != def.Temperature || prov.lastOpts.MaxTokens != def.MaxTokens {
		t.Fatalf("defaults leaked: %+v", prov.lastOpts)
	}
}
