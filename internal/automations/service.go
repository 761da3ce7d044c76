// Package automations stores when/then automation rules and forwards them to
// the AO process builder. Rules are kept in memory only.
package automations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/memohai/aobridge/internal/ao"
)

var (
	ErrNotFound = errors.New("automation not found")
	// ErrInvalid indicates missing required fields.
	ErrInvalid = errors.New("invalid automation")
)

const (
	StatusActive = "active"
	defaultName  = "Unnamed Automation"
	createAction = "CreateAutomation"
)

// MismatchError is returned when a trigger action differs from the rule's When.
type MismatchError struct {
	Expected string
	Got      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("Action does not match automation trigger. Expected: %s, Got: %s", e.Expected, e.Got)
}

type Automation struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	When        string     `json:"when"`
	Then        string     `json:"then"`
	Target      string     `json:"target"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	Status      string     `json:"status"`
}

// Config is the payload sent to the process builder.
type Config struct {
	When        string `json:"When"`
	Then        string `json:"Then"`
	Target      string `json:"Target"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
}

// Update carries optional replacements; empty values keep the current field.
type Update struct {
	When        string
	Then        string
	Target      string
	Name        string
	Description string
}

type CreateResult struct {
	Automation Automation
	Config     Config
	// AOError is set when the rule was stored but the process builder could
	// not be reached.
	AOError error
}

// Messenger is the subset of the AO connector used here.
type Messenger interface {
	ProcessID() (string, error)
	Send(ctx context.Context, target, action, data string, tags map[string]string) (ao.SendResult, error)
}

type Service struct {
	ao     Messenger
	logger *slog.Logger
	now    func() time.Time
	suffix func() int

	mu    sync.RWMutex
	items map[string]Automation
}

func NewService(log *slog.Logger, messenger Messenger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		ao:     messenger,
		logger: log.With(slog.String("service", "automations")),
		now:    time.Now,
		suffix: func() int { return rand.IntN(1000) },
		items:  make(map[string]Automation),
	}
}

func (s *Service) requireConnected() (string, error) {
	return s.ao.ProcessID()
}

// Create stores the rule and asks the process builder to create it. AO
// failures are reported in the result, not as an error.
func (s *Service) Create(ctx context.Context, cfg Config) (CreateResult, error) {
	processID, err := s.requireConnected()
	if err != nil {
		return CreateResult{}, err
	}
	cfg.When = strings.TrimSpace(cfg.When)
	cfg.Then = strings.TrimSpace(cfg.Then)
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.When == "" || cfg.Then == "" || cfg.Target == "" {
		return CreateResult{}, fmt.Errorf("%w: When, Then, and Target are required", ErrInvalid)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = defaultName
	}

	now := s.now().UTC()
	a := Automation{
		ID:          fmt.Sprintf("auto-%d-%d", now.UnixMilli(), s.suffix()),
		Name:        cfg.Name,
		Description: cfg.Description,
		When:        cfg.When,
		Then:        cfg.Then,
		Target:      cfg.Target,
		CreatedAt:   now,
		Status:      StatusActive,
	}
	s.mu.Lock()
	for {
		if _, taken := s.items[a.ID]; !taken {
			break
		}
		a.ID = fmt.Sprintf("auto-%d-%d", now.UnixMilli(), s.suffix())
	}
	s.items[a.ID] = a
	s.mu.Unlock()

	result := CreateResult{Automation: a, Config: cfg}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return CreateResult{}, fmt.Errorf("encode automation config: %w", err)
	}
	if _, err := s.ao.Send(ctx, processID, createAction, string(payload), nil); err != nil {
		s.logger.Warn("automation stored locally, AO send failed", slog.String("id", a.ID), slog.Any("error", err))
		result.AOError = err
		return result, nil
	}
	s.logger.Info("automation created", slog.String("id", a.ID), slog.String("when", a.When))
	return result, nil
}

// List returns automations in creation order.
func (s *Service) List() ([]Automation, error) {
	if _, err := s.requireConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Automation, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Automation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Service) Get(id string) (Automation, error) {
	if _, err := s.requireConnected(); err != nil {
		return Automation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	if !ok {
		return Automation{}, ErrNotFound
	}
	return a, nil
}

func (s *Service) Update(id string, u Update) (Automation, error) {
	if _, err := s.requireConnected(); err != nil {
		return Automation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return Automation{}, ErrNotFound
	}
	a.Name = firstNonEmpty(u.Name, a.Name)
	a.Description = firstNonEmpty(u.Description, a.Description)
	a.When = firstNonEmpty(u.When, a.When)
	a.Then = firstNonEmpty(u.Then, a.Then)
	a.Target = firstNonEmpty(u.Target, a.Target)
	now := s.now().UTC()
	a.UpdatedAt = &now
	s.items[id] = a
	s.logger.Info("automation updated", slog.String("id", id))
	return a, nil
}

// Delete removes the automation and returns it.
func (s *Service) Delete(id string) (Automation, error) {
	if _, err := s.requireConnected(); err != nil {
		return Automation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return Automation{}, ErrNotFound
	}
	delete(s.items, id)
	s.logger.Info("automation deleted", slog.String("id", id))
	return a, nil
}

// Trigger sends action to the automation's own process. The action must match
// the rule's When.
func (s *Service) Trigger(ctx context.Context, id, action, data string) (ao.SendResult, error) {
	a, err := s.Get(id)
	if err != nil {
		return ao.SendResult{}, err
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ao.SendResult{}, fmt.Errorf("%w: Action is required", ErrInvalid)
	}
	if action != a.When {
		return ao.SendResult{}, &MismatchError{Expected: a.When, Got: action}
	}
	res, err := s.ao.Send(ctx, id, action, data, nil)
	if err != nil {
		return ao.SendResult{}, err
	}
	s.logger.Info("automation triggered", slog.String("id", id), slog.String("action", action))
	return res, nil
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
