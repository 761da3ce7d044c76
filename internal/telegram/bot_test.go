package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/aobridge/internal/files"
	"github.com/memohai/aobridge/internal/pending"
)

type fakeBot struct {
	mu       sync.Mutex
	me       tgbotapi.User
	meErr    error
	fileBase string
	updates  chan tgbotapi.Update
	closed   bool
	sent     []tgbotapi.Chattable
	// holdStop keeps the updates channel open after StopReceivingUpdates,
	// like a getUpdates call still in flight.
	holdStop bool
}

func (f *fakeBot) GetMe() (tgbotapi.User, error) { return f.me, f.meErr }

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = make(chan tgbotapi.Update, 8)
	f.closed = false
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	hold := f.holdStop
	f.mu.Unlock()
	if !hold {
		f.closeUpdates()
	}
}

func (f *fakeBot) closeUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates != nil && !f.closed {
		close(f.updates)
		f.closed = true
	}
}

func (f *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	return f.fileBase + "/file/" + fileID, nil
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func newFileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/file/") {
		case "doc-1":
			_, _ = w.Write([]byte("%PDF-1.4 report body"))
		case "photo-big":
			_, _ = w.Write([]byte("\xff\xd8\xff\xe0 jpeg bytes"))
		case "plain":
			_, _ = w.Write([]byte("just some text\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	svc   *Service
	bot   *fakeBot
	cache *files.Cache
	queue *pending.Queue
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	srv := newFileServer(t)
	bot := &fakeBot{me: tgbotapi.User{ID: 42, UserName: "intake_bot", IsBot: true}, fileBase: srv.URL}
	cache := files.NewCache(nil, afero.NewMemMapFs())
	queue := pending.NewQueue(nil)
	intake := NewIntake(nil, cache, IntakeConfig{UploadDir: "/uploads", Timeout: 5 * time.Second})
	svc := NewService(nil, Config{Token: token}, queue, cache, intake, func(string) (BotAPI, error) {
		return bot, nil
	})
	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
	})
	return &harness{svc: svc, bot: bot, cache: cache, queue: queue}
}

func documentMessage(fileID, name, mime string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 7, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: 99},
		Document:  &tgbotapi.Document{FileID: fileID, FileName: name, MimeType: mime, FileSize: 20},
	}
}

func TestInitializeWithoutToken(t *testing.T) {
	h := newHarness(t, "")

	assert.False(t, h.svc.Initialize(context.Background()))
	st := h.svc.Status()
	assert.False(t, st.Initialized)
	assert.Equal(t, StateUninitialized, st.State)
	assert.Contains(t, st.LastError, "token")
	require.NotNil(t, st.LastErrorAt)

	err := h.svc.Start(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeProbeFailure(t *testing.T) {
	h := newHarness(t, "123:abc")
	h.bot.meErr = errors.New("Unauthorized")

	assert.False(t, h.svc.Initialize(context.Background()))
	assert.Contains(t, h.svc.Status().LastError, "Unauthorized")
}

func TestStartStopTransitions(t *testing.T) {
	h := newHarness(t, "123:abc")
	ctx := context.Background()

	require.True(t, h.svc.Initialize(ctx))
	assert.Equal(t, StateInitialized, h.svc.Status().State)

	require.NoError(t, h.svc.Start(ctx))
	require.NoError(t, h.svc.Start(ctx))
	st := h.svc.Status()
	assert.True(t, st.Active)
	require.NotNil(t, st.BotInfo)
	assert.Equal(t, "intake_bot", st.BotInfo.Username)

	require.NoError(t, h.svc.Stop(ctx))
	require.NoError(t, h.svc.Stop(ctx))
	assert.Equal(t, StateInactive, h.svc.Status().State)

	require.NoError(t, h.svc.Start(ctx))
	assert.Equal(t, StateActive, h.svc.Status().State)

	var path []State
	for _, rec := range h.svc.Status().History {
		path = append(path, rec.To)
	}
	assert.Equal(t, []State{StateInitialized, StateActive, StateInactive, StateActive}, path)
}

func TestStopDoesNotWaitForInFlightPoll(t *testing.T) {
	h := newHarness(t, "123:abc")
	h.svc.drainGrace = 20 * time.Millisecond
	require.NoError(t, h.svc.Start(context.Background()))

	h.bot.mu.Lock()
	h.bot.holdStop = true
	updates := h.bot.updates
	h.bot.mu.Unlock()

	start := time.Now()
	require.NoError(t, h.svc.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateInactive, h.svc.Status().State)

	// the poll returns late with one message; it is queued, not stored
	updates <- tgbotapi.Update{UpdateID: 1, Message: documentMessage("doc-1", "report.pdf", "application/pdf")}
	h.bot.closeUpdates()
	require.Eventually(t, func() bool {
		return h.queue.Len() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.cache.List())
}

func TestStopCanceledContextStillSucceeds(t *testing.T) {
	h := newHarness(t, "123:abc")
	require.NoError(t, h.svc.Start(context.Background()))
	h.bot.mu.Lock()
	h.bot.holdStop = true
	h.bot.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.svc.Stop(ctx))
	assert.Equal(t, StateInactive, h.svc.Status().State)
	h.bot.closeUpdates()
}

// newTelegramAPI serves getMe and a getUpdates that holds each poll for hold.
func newTelegramAPI(t *testing.T, hold time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Intake","username":"intake_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			select {
			case <-time.After(hold):
			case <-r.Context().Done():
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStopWithLiveLongPoll(t *testing.T) {
	api := newTelegramAPI(t, 1500*time.Millisecond)
	cache := files.NewCache(nil, afero.NewMemMapFs())
	queue := pending.NewQueue(nil)
	intake := NewIntake(nil, cache, IntakeConfig{UploadDir: "/uploads", Timeout: time.Second})
	svc := NewService(nil, Config{Token: "123:abc", PollTimeout: 2}, queue, cache, intake,
		NewHTTPBotFactory(api.URL+"/bot%s/%s", 5*time.Second))
	svc.drainGrace = 50 * time.Millisecond
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, svc.Shutdown(ctx))
	})

	require.NoError(t, svc.Start(context.Background()))
	info := svc.Status().BotInfo
	require.NotNil(t, info)
	assert.Equal(t, "intake_bot", info.Username)
	// let the first getUpdates call reach the server
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, svc.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, svc.Status().Active)
}

func TestHTTPBotFactoryTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	start := time.Now()
	_, err := NewHTTPBotFactory(srv.URL+"/bot%s/%s", 100*time.Millisecond)("123:abc")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPBotFactoryProbesIdentity(t *testing.T) {
	api := newTelegramAPI(t, 0)

	bot, err := NewHTTPBotFactory(api.URL+"/bot%s/%s", time.Second)("123:abc")
	require.NoError(t, err)
	me, err := bot.GetMe()
	require.NoError(t, err)
	assert.Equal(t, "intake_bot", me.UserName)
}

func TestInactiveIntakeQueues(t *testing.T) {
	h := newHarness(t, "123:abc")
	require.True(t, h.svc.Initialize(context.Background()))

	h.svc.Dispatch(context.Background(), documentMessage("doc-1", "report.pdf", "application/pdf"))
	h.svc.Dispatch(context.Background(), &tgbotapi.Message{Text: "hello", From: &tgbotapi.User{ID: 7}, Chat: &tgbotapi.Chat{ID: 99}})

	assert.Equal(t, 2, h.queue.Len())
	assert.Empty(t, h.cache.List())
	assert.Empty(t, h.bot.texts())

	pendingMsgs := h.svc.ListPending()
	require.Len(t, pendingMsgs, 2)
	assert.Equal(t, pending.KindDocument, pendingMsgs[0].Type)
	assert.Equal(t, "alice", pendingMsgs[0].From)
}

func TestActiveIntakeStores(t *testing.T) {
	h := newHarness(t, "123:abc")
	require.NoError(t, h.svc.Start(context.Background()))

	h.svc.Dispatch(context.Background(), documentMessage("doc-1", "report.pdf", "application/pdf"))

	assert.Zero(t, h.queue.Len())
	recs := h.cache.List()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "report.pdf", rec.FileName)
	assert.Equal(t, "alice", rec.UploadedBy)
	assert.Equal(t, files.StatusPending, rec.ArweaveUploadStatus)
	assert.True(t, h.cache.LocalAvailable(rec))
	assert.Contains(t, h.bot.texts(), "File received and stored with ID: "+rec.ID)
}

func TestActiveIntakeFailureReplies(t *testing.T) {
	h := newHarness(t, "123:abc")
	require.NoError(t, h.svc.Start(context.Background()))

	h.svc.Dispatch(context.Background(), documentMessage("missing", "gone.pdf", "application/pdf"))

	assert.Empty(t, h.cache.List())
	assert.Contains(t, h.bot.texts(), "Sorry, there was an error processing your file.")
}

func TestProcessPendingOnce(t *testing.T) {
	h := newHarness(t, "123:abc")
	require.True(t, h.svc.Initialize(context.Background()))
	h.svc.Dispatch(context.Background(), documentMessage("doc-1", "report.pdf", "application/pdf"))
	require.Equal(t, 1, h.queue.Len())
	id := h.svc.ListPending()[0].ID

	rec, err := h.svc.ProcessPending(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "report.pdf", rec.FileName)
	assert.Zero(t, h.queue.Len())
	assert.Len(t, h.cache.List(), 1)

	_, err = h.svc.ProcessPending(context.Background(), id)
	require.ErrorIs(t, err, pending.ErrNotFound)
}

func TestProcessPendingText(t *testing.T) {
	h := newHarness(t, "123:abc")
	h.svc.Dispatch(context.Background(), &tgbotapi.Message{Text: "note", Chat: &tgbotapi.Chat{ID: 1}, From: &tgbotapi.User{ID: 3}})
	id := h.svc.ListPending()[0].ID

	rec, err := h.svc.ProcessPending(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, h.queue.Len())
}

func TestPollFailureFlipsInactive(t *testing.T) {
	h := newHarness(t, "123:abc")
	require.NoError(t, h.svc.Start(context.Background()))

	h.svc.botLog.Println("Conflict: terminated by other getUpdates request")
	h.svc.botLog.Println("Failed to get updates, retrying in 3 seconds...")

	st := h.svc.Status()
	assert.False(t, st.Active)
	assert.Equal(t, StateInactive, st.State)
	assert.Contains(t, st.LastError, "Conflict")

	// later messages are queued until the bot is started again
	h.svc.Dispatch(context.Background(), documentMessage("doc-1", "report.pdf", "application/pdf"))
	assert.Equal(t, 1, h.queue.Len())

	require.NoError(t, h.svc.Start(context.Background()))
	assert.True(t, h.svc.Status().Active)
}

func TestUpdatesChannelCloseFlipsInactive(t *testing.T) {
	h := newHarness(t, "123:abc")
	require.NoError(t, h.svc.Start(context.Background()))

	h.bot.closeUpdates()

	require.Eventually(t, func() bool {
		return h.svc.Status().State == StateInactive
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, h.svc.Status().LastError, "closed unexpectedly")

	require.NoError(t, h.svc.Start(context.Background()))
	assert.True(t, h.svc.Status().Active)
}

func TestReceiveLoopDispatches(t *testing.T) {
	h := newHarness(t, "123:abc")
	require.NoError(t, h.svc.Start(context.Background()))

	h.bot.mu.Lock()
	updates := h.bot.updates
	h.bot.mu.Unlock()
	updates <- tgbotapi.Update{UpdateID: 1, Message: documentMessage("doc-1", "report.pdf", "application/pdf")}

	require.Eventually(t, func() bool {
		return len(h.cache.List()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCommands(t *testing.T) {
	h := newHarness(t, "123:abc")
	ctx := context.Background()
	require.NoError(t, h.svc.Start(ctx))
	command := func(text string) {
		h.svc.Dispatch(ctx, &tgbotapi.Message{Text: text, From: &tgbotapi.User{ID: 7, UserName: "alice"}, Chat: &tgbotapi.Chat{ID: 99}})
	}

	command("/start")
	command("/help")
	command("/list")
	command("/get")
	command("/get nope")
	h.svc.Dispatch(ctx, documentMessage("doc-1", "report.pdf", "application/pdf"))
	command("/list@intake_bot")

	texts := h.bot.texts()
	require.Len(t, texts, 7)
	assert.Equal(t, welcomeText, texts[0])
	assert.Equal(t, helpText, texts[1])
	assert.Equal(t, "You have not uploaded any files yet.", texts[2])
	assert.Equal(t, "Please provide a file ID. Example: /get file_id", texts[3])
	assert.Equal(t, "File not found. Please check the ID and try again.", texts[4])
	assert.True(t, strings.HasPrefix(texts[6], "Your uploaded files:\n- report.pdf (ID: "))
	assert.Contains(t, texts[6], "Type: application/pdf, Size: 20 B)")

	id := h.cache.List()[0].ID
	command("/get " + id)
	h.bot.mu.Lock()
	last := h.bot.sent[len(h.bot.sent)-1]
	h.bot.mu.Unlock()
	doc, ok := last.(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, int64(99), doc.ChatID)
	assert.Equal(t, "report.pdf", doc.Caption)
}
