package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/rag4all/ragchat/internal/docstore"
	"github.com/rag4all/ragchat/internal/llm"
	"github.com/rag4all/ragchat/internal/prompt"
	"github.com/rag4all/ragchat/internal/retriever"
	"github.com/rag4all/ragchat/internal/store/redisstore"
)

// ErrPersistenceUnavailable reports that no database is configured. Chat
// history and session listing depend on it; generation does not.
var ErrPersistenceUnavailable = errors.New("chat: persistence not configured")

var ErrSessionNotFound = gorm.ErrRecordNotFound

// Service runs the query-time pipeline: persist the user message, retrieve
// document context, assemble the prompt and call generation. All chat state
// is addressed by explicit chat id; the service holds no ambient session.
type Service struct {
	repo      *Repo // nil when DATABASE_URL is absent
	retriever *retriever.Retriever
	registry  *llm.Registry
	docs      docstore.Store
	titles    *redisstore.Store

	provider string
	model    string
	genOpts  llm.Options
	window   int
}

type ServiceConfig struct {
	Provider string
	Model    string
	GenOpts  llm.Options
	Window   int
}

func NewService(repo *Repo, ret *retriever.Retriever, reg *llm.Registry, docs docstore.Store, titles *redisstore.Store, cfg ServiceConfig) *Service {
	if cfg.Window <= 0 || cfg.Window > 100 {
		cfg.Window = prompt.HistoryWindow
	}
	if docs == nil {
		docs = docstore.Unavailable{}
	}
	return &Service{
		repo:      repo,
		retriever: ret,
		registry:  reg,
		docs:      docs,
		titles:    titles,
		provider:  cfg.Provider,
		model:     cfg.Model,
		genOpts:   cfg.GenOpts,
		window:    cfg.Window,
	}
}

// SendResult is the outcome of one send: the (possibly just materialized)
// chat id, the assistant reply and its message id when persisted.
type SendResult struct {
	ChatID    string
	Reply     string
	MessageID uint64
	Created   bool
}

func defaultTitle(now time.Time) string {
	return "New Chat " + now.Format("2006-01-02 15:04")
}

func (s *Service) providerFor(ctx context.Context) (llm.Provider, error) {
	if s.registry == nil {
		return nil, errors.New("chat: no llm registry")
	}
	return s.registry.Get(ctx, s.provider, s.model)
}

// historyMessages loads the prompt window oldest-first.
func (s *Service) historyMessages(ctx context.Context, chatID string) []llm.Message {
	if s.repo == nil {
		return nil
	}
	recent, err := s.repo.ListRecentMessagesDesc(ctx, chatID, s.window)
	if err != nil {
		return nil
	}
	out := make([]llm.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, llm.Message{Role: recent[i].Role, Content: recent[i].Content})
	}
	return out
}

// GenOverrides carries optional per-request generation knobs; nil fields
// keep the configured defaults.
type GenOverrides struct {
	Temperature *float64
	MaxTokens   *int
}

func (s *Service) optsWith(ov GenOverrides) llm.Options {
	opts := s.genOpts
	if ov.Temperature != nil {
		opts.Temperature = *ov.Temperature
	}
	if ov.MaxTokens != nil {
		opts.MaxTokens = *ov.MaxTokens
	}
	return opts
}

// SendMessage runs the full RAG round trip for one user prompt. A generation
// failure never surfaces as an error: the reply carries an inline "Error:"
// string instead, so callers render it like any other response.
func (s *Service) SendMessage(ctx context.Context, chatID, content string) (SendResult, error) {
	return s.SendMessageWithOptions(ctx, chatID, content, GenOverrides{})
}

func (s *Service) SendMessageWithOptions(ctx context.Context, chatID, content string, ov GenOverrides) (SendResult, error) {
	var res SendResult

	if chatID == "" {
		id, err := NewChatID()
		if err != nil {
			return res, err
		}
		chatID = id
	}
	res.ChatID = chatID

	// Materialize the session on first message, then record the user turn.
	if s.repo != nil {
		created, err := s.repo.EnsureSession(ctx, &Session{ID: chatID, Title: defaultTitle(time.Now())})
		if err != nil {
			return res, fmt.Errorf("chat: ensure session: %w", err)
		}
		res.Created = created
		if created {
			if sess, err := s.repo.GetSession(ctx, chatID); err == nil {
				s.titles.SetTitle(ctx, chatID, sess.Title)
			}
		}
		if err := s.repo.InsertMessage(ctx, &Message{ChatID: chatID, Role: "user", Content: content}); err != nil {
			return res, fmt.Errorf("chat: insert user message: %w", err)
		}
	}

	history := s.historyMessages(ctx, chatID)

	var retrieved []docstore.SearchResult
	if s.retriever != nil {
		retrieved = s.retriever.Retrieve(ctx, chatID, content, 0)
	}

	msgs := prompt.BuildMessages(content, history, retrieved)

	provider, err := s.providerFor(ctx)
	if err != nil {
		provider = nil // GenerateOrError reports the missing provider inline
	}
	res.Reply = llm.GenerateOrError(ctx, provider, msgs, s.optsWith(ov))

	if s.repo != nil {
		assistant := &Message{ChatID: chatID, Role: "assistant", Content: res.Reply}
		if err := s.repo.InsertMessage(ctx, assistant); err != nil {
			return res, fmt.Errorf("chat: insert assistant message: %w", err)
		}
		res.MessageID = assistant.ID
	}
	return res, nil
}

// SendMessageStream is the streaming variant. The user message is stored up
// front, assistant chunks stream out, and the full reply is stored once the
// stream completes.
func (s *Service) SendMessageStream(ctx context.Context, chatID, content string) (<-chan string, <-chan SendResult, <-chan error) {
	outChunks := make(chan string, 16)
	outRes := make(chan SendResult, 1)
	outErrs := make(chan error, 1)

	go func() {
		defer close(outChunks)
		defer close(outRes)
		defer close(outErrs)

		res := SendResult{ChatID: chatID}
		if res.ChatID == "" {
			id, err := NewChatID()
			if err != nil {
				outErrs <- err
				return
			}
			res.ChatID = id
		}

		if s.repo != nil {
			created, err := s.repo.EnsureSession(ctx, &Session{ID: res.ChatID, Title: defaultTitle(time.Now())})
			if err != nil {
				outErrs <- err
				return
			}
			res.Created = created
			if created {
				s.titles.SetTitle(ctx, res.ChatID, defaultTitle(time.Now()))
			}
			if err := s.repo.InsertMessage(ctx, &Message{ChatID: res.ChatID, Role: "user", Content: content}); err != nil {
				outErrs <- err
				return
			}
		}

		history := s.historyMessages(ctx, res.ChatID)
		var retrieved []docstore.SearchResult
		if s.retriever != nil {
			retrieved = s.retriever.Retrieve(ctx, res.ChatID, content, 0)
		}
		msgs := prompt.BuildMessages(content, history, retrieved)

		provider, err := s.providerFor(ctx)
		if err != nil {
			outErrs <- err
			return
		}
		sp, ok := provider.(llm.StreamProvider)
		if !ok {
			outErrs <- errors.New("chat: provider does not support streaming")
			return
		}

		pChunks, pErrs := sp.StreamChat(ctx, msgs, s.genOpts)

		var reply []byte
		for c := range pChunks {
			reply = append(reply, c...)
			outChunks <- c
		}
		select {
		case err := <-pErrs:
			if err != nil {
				outErrs <- err
				return
			}
		default:
		}

		res.Reply = string(reply)
		if s.repo != nil {
			assistant := &Message{ChatID: res.ChatID, Role: "assistant", Content: res.Reply}
			if err := s.repo.InsertMessage(ctx, assistant); err != nil {
				outErrs <- err
				return
			}
			res.MessageID = assistant.ID
		}
		outRes <- res
	}()

	return outChunks, outRes, outErrs
}

// ListSessions returns known sessions newest first, serving from the title
// cache when warm and falling back to the database.
func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	if cached := s.titles.Titles(ctx); len(cached) > 0 {
		out := make([]Session, 0, len(cached))
		for id, title := range cached {
			sess := Session{ID: id, Title: title}
			if u, err := ulid.Parse(id); err == nil {
				sess.CreatedAt = time.UnixMilli(int64(u.Time()))
			}
			out = append(out, sess)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
		return out, nil
	}

	if s.repo == nil {
		return nil, ErrPersistenceUnavailable
	}
	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		s.titles.SetTitle(ctx, sess.ID, sess.Title)
	}
	return sessions, nil
}

func (s *Service) ListMessages(ctx context.Context, chatID string, limit int, beforeID uint64) ([]Message, error) {
	if s.repo == nil {
		return nil, ErrPersistenceUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if _, err := s.repo.GetSession(ctx, chatID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, chatID, limit, beforeID)
}

func (s *Service) RenameSession(ctx context.Context, chatID, title string) error {
	if s.repo == nil {
		return ErrPersistenceUnavailable
	}
	if err := s.repo.RenameSession(ctx, chatID, title); err != nil {
		return err
	}
	s.titles.SetTitle(ctx, chatID, title)
	return nil
}

// DeleteSession cascades: messages and the session row go in one
// transaction, then the chat's document chunks and the cached title.
func (s *Service) DeleteSession(ctx context.Context, chatID string) error {
	if s.repo == nil {
		return ErrPersistenceUnavailable
	}
	if err := s.repo.DeleteSession(ctx, chatID); err != nil {
		return err
	}
	if err := s.docs.DeleteChunks(ctx, chatID, ""); err != nil && !errors.Is(err, docstore.ErrUnavailable) {
		return fmt.Errorf("chat: delete chunks: %w", err)
	}
	s.titles.DeleteTitle(ctx, chatID)
	return nil
}

// DeleteDocument removes one file's chunks from a chat.
func (s *Service) DeleteDocument(ctx context.Context, chatID, fileName string) error {
	return s.docs.DeleteChunks(ctx, chatID, fileName)
}
