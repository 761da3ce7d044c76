// Package ao talks to processes on the AO network through the aos command
// line tool. Connection state and the sent-message log live in memory.
package ao

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/afero"

	"github.com/memohai/aobridge/internal/execx"
)

var (
	// ErrNotConnected indicates no process builder id has been registered.
	ErrNotConnected = errors.New("not connected to AO platform")
	// ErrInvalidArgument indicates a required send or connect field is empty.
	ErrInvalidArgument = errors.New("invalid argument")
)

var sentMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aobridge_ao_messages_total",
	Help: "Messages sent to AO processes by outcome.",
}, []string{"outcome"})

type Config struct {
	Binary      string
	Timeout     time.Duration
	HistorySize int
}

type Connection struct {
	Connected  bool   `json:"connected"`
	ProcessID  string `json:"processId"`
	EmailBotID string `json:"emailBotId"`
}

type Target struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type SendResult struct {
	Success bool   `json:"success"`
	Target  string `json:"target"`
	Action  string `json:"action"`
	Output  string `json:"output"`
}

// Message is one entry of the sent-message log.
type Message struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	Target    string            `json:"target"`
	Action    string            `json:"action"`
	Data      string            `json:"data"`
	Tags      map[string]string `json:"tags,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type Connector struct {
	cfg    Config
	runner execx.Runner
	fs     afero.Fs
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	conn    Connection
	history map[string][]Message
}

func NewConnector(log *slog.Logger, runner execx.Runner, fs afero.Fs, cfg Config) *Connector {
	if log == nil {
		log = slog.Default()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "aos"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Connector{
		cfg:     cfg,
		runner:  runner,
		fs:      fs,
		logger:  log.With(slog.String("service", "ao")),
		now:     time.Now,
		history: make(map[string][]Message),
	}
}

// Connect registers the process builder and email bot ids.
func (c *Connector) Connect(processID, emailBotID string) (Connection, error) {
	processID = strings.TrimSpace(processID)
	if processID == "" {
		return Connection{}, fmt.Errorf("%w: process id is required", ErrInvalidArgument)
	}
	c.mu.Lock()
	c.conn = Connection{Connected: true, ProcessID: processID, EmailBotID: strings.TrimSpace(emailBotID)}
	conn := c.conn
	c.mu.Unlock()
	c.logger.Info("connected", slog.String("process_id", conn.ProcessID), slog.String("email_bot_id", conn.EmailBotID))
	return conn, nil
}

func (c *Connector) Disconnect() {
	c.mu.Lock()
	c.conn = Connection{}
	c.mu.Unlock()
	c.logger.Info("disconnected")
}

func (c *Connector) Status() (Connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.conn.Connected {
		return Connection{}, ErrNotConnected
	}
	return c.conn, nil
}

func (c *Connector) Connected() bool {
	_, err := c.Status()
	return err == nil
}

// ProcessID returns the connected process builder id.
func (c *Connector) ProcessID() (string, error) {
	conn, err := c.Status()
	if err != nil {
		return "", err
	}
	return conn.ProcessID, nil
}

func (c *Connector) Targets() ([]Target, error) {
	conn, err := c.Status()
	if err != nil {
		return nil, err
	}
	return []Target{
		{ID: conn.EmailBotID, Name: "Email Bot", Description: "Sends emails and notifications", Icon: "bi-envelope"},
		{ID: conn.ProcessID, Name: "Process Builder", Description: "Creates and manages automations", Icon: "bi-gear"},
	}, nil
}

// Send delivers an action message to target by running a generated Lua
// script through aos. A non-zero exit is an error.
func (c *Connector) Send(ctx context.Context, target, action, data string, tags map[string]string) (SendResult, error) {
	target = strings.TrimSpace(target)
	action = strings.TrimSpace(action)
	if target == "" {
		return SendResult{}, fmt.Errorf("%w: target is required", ErrInvalidArgument)
	}
	if action == "" {
		return SendResult{}, fmt.Errorf("%w: action is required", ErrInvalidArgument)
	}
	output, err := c.run(ctx, target, action, data, tags)
	c.record(target, action, data, tags, err)
	if err != nil {
		sentMessages.WithLabelValues("failed").Inc()
		c.logger.Error("send failed", slog.String("target", target), slog.String("action", action), slog.Any("error", err))
		return SendResult{}, err
	}
	sentMessages.WithLabelValues("sent").Inc()
	c.logger.Info("message sent", slog.String("target", target), slog.String("action", action))
	return SendResult{Success: true, Target: target, Action: action, Output: output}, nil
}

func (c *Connector) run(ctx context.Context, target, action, data string, tags map[string]string) (string, error) {
	if c.runner == nil {
		return "", errors.New("aos runner is not configured")
	}
	dir, err := afero.TempDir(c.fs, "", "ao-msg-")
	if err != nil {
		return "", fmt.Errorf("create script dir: %w", err)
	}
	defer func() {
		if err := c.fs.RemoveAll(dir); err != nil {
			c.logger.Warn("remove script dir failed", slog.String("dir", dir), slog.Any("error", err))
		}
	}()
	script := filepath.Join(dir, "send-message.lua")
	if err := afero.WriteFile(c.fs, script, []byte(sendScript(target, action, data, tags)), 0o600); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	res, err := c.runner.Run(runCtx, execx.Command{Name: c.cfg.Binary, Args: []string{"-e", script}})
	if err != nil {
		return res.Stdout, err
	}
	return res.Stdout, nil
}

func (c *Connector) record(target, action, data string, tags map[string]string, sendErr error) {
	msg := Message{
		ID:        uuid.NewString(),
		From:      "aobridge",
		Target:    target,
		Action:    action,
		Data:      data,
		Tags:      tags,
		Success:   sendErr == nil,
		Timestamp: c.now().UTC(),
	}
	if sendErr != nil {
		msg.Error = sendErr.Error()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	log := append(c.history[target], msg)
	if len(log) > c.cfg.HistorySize {
		log = slices.Clone(log[len(log)-c.cfg.HistorySize:])
	}
	c.history[target] = log
}

// Messages returns messages sent to processID, newest first.
func (c *Connector) Messages(processID string) []Message {
	c.mu.RLock()
	log := slices.Clone(c.history[strings.TrimSpace(processID)])
	c.mu.RUnlock()
	slices.Reverse(log)
	if log == nil {
		return []Message{}
	}
	return log
}

func sendScript(target, action, data string, tags map[string]string) string {
	var b strings.Builder
	b.WriteString("Send({\n")
	fmt.Fprintf(&b, "  Target = %s,\n", luaString(target))
	fmt.Fprintf(&b, "  Action = %s,\n", luaString(action))
	fmt.Fprintf(&b, "  Data = %s", luaLongString(data))
	keys := make([]string, 0, len(tags))
	for k := range tags {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ",\n  [%s] = %s", luaString(k), luaString(tags[k]))
	}
	b.WriteString("\n})\n")
	return b.String()
}

func luaString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}

// luaLongString picks a bracket level that does not occur in s.
func luaLongString(s string) string {
	level := ""
	for strings.Contains(s, "]"+level+"]") {
		level += "="
	}
	return "[" + level + "[" + s + "]" + level + "]"
}
