// Package telegram runs the intake bot: a supervised long-polling loop whose
// activity state decides whether inbound files are stored immediately or
// queued for later processing.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/aobridge/internal/files"
	"github.com/memohai/aobridge/internal/pending"
)

var (
	// ErrNotInitialized indicates the bot could not be created or probed.
	ErrNotInitialized = errors.New("telegram bot is not initialized")
	errNoToken        = errors.New("telegram bot token is not configured")
)

// defaultDrainGrace bounds how long Stop waits for fetched updates to be
// queued before returning.
const defaultDrainGrace = 2 * time.Second

type Config struct {
	Token       string
	PollTimeout int
}

type BotInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
}

type Status struct {
	Initialized  bool               `json:"initialized"`
	Active       bool               `json:"active"`
	State        State              `json:"state"`
	BotInfo      *BotInfo           `json:"botInfo,omitempty"`
	LastError    string             `json:"lastError,omitempty"`
	LastErrorAt  *time.Time         `json:"lastErrorAt,omitempty"`
	PendingCount int                `json:"pendingCount"`
	History      []TransitionRecord `json:"history,omitempty"`
}

type pollLoop struct {
	updates  tgbotapi.UpdatesChannel
	cancel   context.CancelFunc
	done     chan struct{}
	stopping atomic.Bool
}

// Service owns the bot client, its state machine and the intake path.
type Service struct {
	cfg     Config
	factory BotFactory
	state   *stateMachine
	queue   *pending.Queue
	cache   *files.Cache
	intake  *Intake
	logger  *slog.Logger
	botLog  *slogBotLogger

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	drainGrace time.Duration

	mu    sync.Mutex
	bot   BotAPI
	info  *BotInfo
	stale bool
	loop  *pollLoop
}

func NewService(log *slog.Logger, cfg Config, queue *pending.Queue, cache *files.Cache, intake *Intake, factory BotFactory) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	if factory == nil {
		factory = NewHTTPBotFactory(tgbotapi.APIEndpoint, time.Duration(cfg.PollTimeout)*time.Second+pollClientMargin)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:     cfg,
		factory: factory,
		state:   newStateMachine(),
		queue:   queue,
		cache:   cache,
		intake:  intake,
		logger:  log.With(slog.String("service", "telegram")),
		ctx:     ctx,
		cancel:  cancel,

		drainGrace: defaultDrainGrace,
	}
	s.botLog = &slogBotLogger{log: s.logger.With(slog.String("component", "tgbotapi"))}
	s.botLog.setOnFail(func(reason string) {
		s.state.Fail(fmt.Errorf("polling failed: %s", reason))
	})
	_ = tgbotapi.SetLogger(s.botLog)
	return s
}

// Initialize creates the client and probes the bot identity. It reports false
// when the token is missing or the probe fails; the cause is kept as the last
// error.
func (s *Service) Initialize(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot != nil {
		return true
	}
	bot, info, err := s.connect()
	if err != nil {
		s.state.Fail(err)
		s.logger.Warn("bot initialization failed", slog.Any("error", err))
		return false
	}
	s.bot = bot
	s.info = info
	if s.state.Current() == StateUninitialized {
		if err := s.state.TransitionTo(StateInitialized, "bot initialized"); err != nil {
			s.logger.Warn("state transition failed", slog.Any("error", err))
		}
	}
	s.logger.Info("bot initialized", slog.String("username", info.Username))
	return true
}

func (s *Service) connect() (BotAPI, *BotInfo, error) {
	token := strings.TrimSpace(s.cfg.Token)
	if token == "" {
		return nil, nil, errNoToken
	}
	bot, err := s.factory(token)
	if err != nil {
		return nil, nil, fmt.Errorf("create bot: %w", err)
	}
	me, err := bot.GetMe()
	if err != nil {
		return nil, nil, fmt.Errorf("identity probe: %w", err)
	}
	return bot, &BotInfo{ID: me.ID, Username: me.UserName, FirstName: me.FirstName}, nil
}

// Start begins long polling and marks the bot active. It returns once the
// loop is launched.
func (s *Service) Start(ctx context.Context) error {
	if s.state.Active() {
		return nil
	}
	if !s.Initialize(ctx) {
		reason, _ := s.state.LastError()
		return fmt.Errorf("%w: %s", ErrNotInitialized, reason)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		if s.stale {
			bot, info, err := s.connect()
			if err != nil {
				s.state.Fail(err)
				return fmt.Errorf("%w: %v", ErrNotInitialized, err)
			}
			s.bot, s.info, s.stale = bot, info, false
		}
		updateConfig := tgbotapi.NewUpdate(0)
		updateConfig.Timeout = s.cfg.PollTimeout
		loopCtx, cancel := context.WithCancel(s.ctx)
		loop := &pollLoop{
			updates: s.bot.GetUpdatesChan(updateConfig),
			cancel:  cancel,
			done:    make(chan struct{}),
		}
		s.loop = loop
		go s.receive(loopCtx, loop)
	}
	if err := s.state.TransitionTo(StateActive, "started"); err != nil {
		var te *TransitionError
		if errors.As(err, &te) && te.From == StateActive {
			return nil
		}
		return err
	}
	s.logger.Info("bot started")
	return nil
}

func (s *Service) receive(ctx context.Context, loop *pollLoop) {
	defer close(loop.done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-loop.updates:
			if !ok {
				if loop.stopping.Load() {
					return
				}
				s.logger.Warn("updates channel closed unexpectedly")
				s.state.Fail(errors.New("telegram updates channel closed unexpectedly"))
				s.mu.Lock()
				if s.loop == loop {
					s.loop = nil
					s.stale = true
				}
				s.mu.Unlock()
				return
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("message handler panic", slog.Any("panic", r))
					}
				}()
				s.Dispatch(s.ctx, msg)
			}()
		}
	}
}

// Stop ends long polling and marks the bot inactive. Updates already fetched
// are dispatched after the transition, so they land in the pending queue.
func (s *Service) Stop(ctx context.Context) error {
	if s.state.Active() {
		if err := s.state.TransitionTo(StateInactive, "stopped"); err != nil {
			var te *TransitionError
			if !errors.As(err, &te) || te.From != StateInactive {
				return err
			}
		}
	}

	// A poll failure leaves the state inactive with the loop still running.
	s.mu.Lock()
	loop, bot := s.loop, s.bot
	s.loop = nil
	s.stale = true
	s.mu.Unlock()
	if loop == nil {
		return nil
	}

	loop.stopping.Store(true)
	bot.StopReceivingUpdates()
	loop.cancel()

	// The library closes the updates channel only after the in-flight
	// getUpdates call returns, which can take a full poll timeout.
	drained := make(chan int, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-loop.done
		n := 0
		for update := range loop.updates {
			if update.Message != nil {
				s.Dispatch(s.ctx, update.Message)
				n++
			}
		}
		drained <- n
	}()
	timer := time.NewTimer(s.drainGrace)
	defer timer.Stop()
	select {
	case n := <-drained:
		s.logger.Info("bot stopped", slog.Int("drained", n))
	case <-timer.C:
		s.logger.Info("bot stopped; draining in background")
	case <-ctx.Done():
		s.logger.Info("bot stopped; draining in background", slog.Any("error", ctx.Err()))
	}
	return nil
}

// Shutdown stops the bot and waits for in-flight message handlers.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.Stop(ctx)
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Service) Status() Status {
	st := Status{
		Initialized:  s.state.Initialized(),
		Active:       s.state.Active(),
		State:        s.state.Current(),
		PendingCount: s.queue.Len(),
		History:      s.state.History(),
	}
	if reason, at := s.state.LastError(); reason != "" {
		st.LastError = reason
		st.LastErrorAt = &at
	}
	s.mu.Lock()
	if s.info != nil {
		info := *s.info
		st.BotInfo = &info
	}
	s.mu.Unlock()
	return st
}

func (s *Service) currentBot() BotAPI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bot
}

// Dispatch is the single entrypoint for inbound messages. While active the
// message is handled now, otherwise its payload is queued.
func (s *Service) Dispatch(ctx context.Context, msg *tgbotapi.Message) {
	payload, ok := payloadFromMessage(msg)
	if !ok {
		return
	}
	if !s.state.Active() {
		s.queue.Add(payload)
		return
	}
	if text, isText := payload.(pending.Text); isText {
		s.handleCommand(ctx, text)
		return
	}
	s.ingestAndReply(ctx, payload)
}

func (s *Service) ingestAndReply(ctx context.Context, payload pending.Payload) (files.FileRecord, error) {
	rec, err := s.intake.Ingest(ctx, s.currentBot(), payload)
	if err != nil {
		s.logger.Error("intake failed",
			slog.String("type", string(payload.Kind())),
			slog.String("from", payload.Sender().Uploader()),
			slog.Any("error", err),
		)
		if payload.Kind() == pending.KindPhoto {
			s.reply(payload.Chat(), "Sorry, there was an error processing your photo.")
		} else {
			s.reply(payload.Chat(), "Sorry, there was an error processing your file.")
		}
		return files.FileRecord{}, err
	}
	if payload.Kind() == pending.KindPhoto {
		s.reply(payload.Chat(), fmt.Sprintf("Photo received and stored with ID: %s", rec.ID))
	} else {
		s.reply(payload.Chat(), fmt.Sprintf("File received and stored with ID: %s", rec.ID))
	}
	return rec, nil
}

// ListPending returns queued messages, oldest first.
func (s *Service) ListPending() []pending.Summary {
	msgs := s.queue.List()
	out := make([]pending.Summary, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Summary())
	}
	return out
}

// ProcessPending removes a queued message and runs intake on it. Text
// messages yield a nil record. The message is consumed even when intake
// fails.
func (s *Service) ProcessPending(ctx context.Context, id string) (*files.FileRecord, error) {
	msg, err := s.queue.Take(id)
	if err != nil {
		return nil, err
	}
	if msg.Payload.Kind() == pending.KindText {
		s.logger.Info("pending text message processed", slog.String("message_id", id))
		return nil, nil
	}
	if !s.Initialize(ctx) {
		return nil, ErrNotInitialized
	}
	rec, err := s.ingestAndReply(ctx, msg.Payload)
	if err != nil {
		return nil, err
	}
	s.logger.Info("pending message processed", slog.String("message_id", id), slog.String("file_id", rec.ID))
	return &rec, nil
}

func (s *Service) reply(chatID int64, text string) {
	if chatID == 0 {
		return
	}
	bot := s.currentBot()
	if bot == nil {
		return
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		s.logger.Warn("send reply failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}
