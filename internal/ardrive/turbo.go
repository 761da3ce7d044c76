package ardrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/memohai/aobridge/internal/execx"
)

// TurboConfig configures TurboClient.
type TurboConfig struct {
	PaymentURL string
	// Token is the Turbo payment token type, e.g. "ethereum" or "arweave".
	Token      string
	Address    string
	PrivateKey string
	// CLIPath is the turbo command line tool used for signed uploads.
	CLIPath          string
	CheckoutCurrency string
	// CheckoutAmount is the minimum top-up in the currency's minor unit.
	// Larger shortfalls are rounded up to the amount that covers them.
	CheckoutAmount int
	Timeout        time.Duration
	UploadTimeout  time.Duration
}

// TurboClient talks to the Turbo payment REST API for balances, prices and
// checkout sessions, and shells out to the turbo CLI for signed uploads.
type TurboClient struct {
	cfg    TurboConfig
	http   *http.Client
	runner execx.Runner
	fs     afero.Fs
	logger *slog.Logger
}

// NewTurboClient builds the client. fs holds the short-lived wallet file
// handed to the CLI.
func NewTurboClient(log *slog.Logger, fs afero.Fs, cfg TurboConfig, runner execx.Runner) *TurboClient {
	if log == nil {
		log = slog.Default()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}
	if cfg.Token == "" {
		cfg.Token = "ethereum"
	}
	if cfg.CLIPath == "" {
		cfg.CLIPath = "turbo"
	}
	if cfg.CheckoutCurrency == "" {
		cfg.CheckoutCurrency = "usd"
	}
	if cfg.CheckoutAmount <= 0 {
		cfg.CheckoutAmount = 1000
	}
	cfg.PaymentURL = strings.TrimRight(cfg.PaymentURL, "/")
	return &TurboClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		runner: runner,
		fs:     fs,
		logger: log.With(slog.String("adapter", "turbo")),
	}
}

func (c *TurboClient) Address(_ context.Context) (string, error) {
	addr := strings.TrimSpace(c.cfg.Address)
	if addr == "" {
		return "", fmt.Errorf("%w: wallet address is not set", ErrNotConfigured)
	}
	return addr, nil
}

type wincResponse struct {
	Winc json.Number `json:"winc"`
}

func (c *TurboClient) GetBalance(ctx context.Context) (int64, error) {
	addr, err := c.Address(ctx)
	if err != nil {
		return 0, err
	}
	endpoint := fmt.Sprintf("%s/v1/account/balance/%s?address=%s",
		c.cfg.PaymentURL, url.PathEscape(c.cfg.Token), url.QueryEscape(addr))
	var resp wincResponse
	status, err := c.getJSON(ctx, endpoint, &resp)
	if status == http.StatusNotFound {
		// Turbo answers 404 for wallets that never topped up.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return parseWinc(resp.Winc)
}

func (c *TurboClient) GetUploadCost(ctx context.Context, size int64) (int64, error) {
	if size < 0 {
		return 0, fmt.Errorf("invalid size %d", size)
	}
	endpoint := fmt.Sprintf("%s/v1/price/bytes/%d", c.cfg.PaymentURL, size)
	var resp wincResponse
	if _, err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, fmt.Errorf("get upload cost: %w", err)
	}
	return parseWinc(resp.Winc)
}

type checkoutResponse struct {
	PaymentSession struct {
		URL string `json:"url"`
	} `json:"paymentSession"`
}

func (c *TurboClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return "", fmt.Errorf("%w: owner is required", ErrNotConfigured)
	}
	amount := c.checkoutAmount(ctx, req.Winc)
	endpoint := fmt.Sprintf("%s/v1/top-up/checkout-session/%s/%s/%d?token=%s",
		c.cfg.PaymentURL,
		url.PathEscape(owner),
		url.PathEscape(c.cfg.CheckoutCurrency),
		amount,
		url.QueryEscape(c.cfg.Token),
	)
	var resp checkoutResponse
	if _, err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if resp.PaymentSession.URL == "" {
		return "", errors.New("create checkout session: empty url")
	}
	c.logger.Info("checkout session created",
		slog.String("owner", owner),
		slog.Int64("needed_winc", req.Winc),
		slog.Int64("amount", amount),
	)
	return resp.PaymentSession.URL, nil
}

// checkoutAmount converts a winc shortfall into a top-up amount in the
// checkout currency, never below CheckoutAmount. A failed price lookup falls
// back to CheckoutAmount.
func (c *TurboClient) checkoutAmount(ctx context.Context, winc int64) int64 {
	base := int64(c.cfg.CheckoutAmount)
	if winc <= 0 {
		return base
	}
	endpoint := fmt.Sprintf("%s/v1/price/%s/%d", c.cfg.PaymentURL, url.PathEscape(c.cfg.CheckoutCurrency), base)
	var resp wincResponse
	if _, err := c.getJSON(ctx, endpoint, &resp); err != nil {
		c.logger.Warn("fiat price lookup failed; using minimum top-up", slog.Any("error", err))
		return base
	}
	perBase, err := parseWinc(resp.Winc)
	if err != nil || perBase <= 0 {
		c.logger.Warn("fiat price lookup returned no credits; using minimum top-up", slog.Any("error", err))
		return base
	}
	// ceil(winc * base / perBase)
	need := new(big.Int).Mul(big.NewInt(winc), big.NewInt(base))
	need.Add(need, big.NewInt(perBase-1))
	need.Quo(need, big.NewInt(perBase))
	if !need.IsInt64() || need.Int64() < base {
		return base
	}
	return need.Int64()
}

// UploadFile signs and posts the file with the turbo CLI and parses the JSON
// receipt it prints.
func (c *TurboClient) UploadFile(ctx context.Context, req UploadRequest) (UploadReceipt, error) {
	if strings.TrimSpace(c.cfg.PrivateKey) == "" {
		return UploadReceipt{}, fmt.Errorf("%w: PRIVATE_KEY is not set", ErrNotConfigured)
	}
	if c.runner == nil {
		return UploadReceipt{}, errors.New("upload runner is not configured")
	}
	wallet, cleanup, err := c.writeWallet()
	if err != nil {
		return UploadReceipt{}, err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	args := []string{
		"upload-file",
		"--file-path", req.Path,
		"--token", c.cfg.Token,
		"--wallet-file", wallet,
	}
	if len(req.Tags) > 0 {
		args = append(args, "--tags")
		for _, tag := range req.Tags {
			args = append(args, tag.Name, tag.Value)
		}
	}
	res, err := c.runner.Run(ctx, execx.Command{
		Name:   c.cfg.CLIPath,
		Args:   args,
		Redact: []string{c.cfg.PrivateKey},
	})
	if err != nil {
		return UploadReceipt{}, fmt.Errorf("turbo upload: %w", err)
	}
	receipt, err := parseReceipt(res.Stdout)
	if err != nil {
		return UploadReceipt{}, fmt.Errorf("turbo upload: %w", err)
	}
	return receipt, nil
}

// writeWallet stores the private key in a 0600 file so it never appears on
// the CLI command line.
func (c *TurboClient) writeWallet() (string, func(), error) {
	dir, err := afero.TempDir(c.fs, "", "turbo-wallet-")
	if err != nil {
		return "", nil, fmt.Errorf("create wallet dir: %w", err)
	}
	cleanup := func() {
		if err := c.fs.RemoveAll(dir); err != nil {
			c.logger.Warn("remove wallet dir failed", slog.String("dir", dir), slog.Any("error", err))
		}
	}
	path := filepath.Join(dir, "wallet")
	if err := afero.WriteFile(c.fs, path, []byte(strings.TrimSpace(c.cfg.PrivateKey)), 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write wallet file: %w", err)
	}
	return path, cleanup, nil
}

func (c *TurboClient) getJSON(ctx context.Context, endpoint string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode body: %w", err)
	}
	return resp.StatusCode, nil
}

func parseWinc(n json.Number) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, errors.New("missing winc amount")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid winc amount %q: %w", s, err)
	}
	return v, nil
}

// parseReceipt extracts the JSON object printed by the CLI, which may be
// preceded by a human readable prefix.
func parseReceipt(stdout string) (UploadReceipt, error) {
	start := strings.IndexByte(stdout, '{')
	end := strings.LastIndexByte(stdout, '}')
	if start < 0 || end < start {
		return UploadReceipt{}, errors.New("no receipt in output")
	}
	var receipt UploadReceipt
	if err := json.Unmarshal([]byte(stdout[start:end+1]), &receipt); err != nil {
		return UploadReceipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	if receipt.ID == "" {
		return UploadReceipt{}, errors.New("receipt has no id")
	}
	return receipt, nil
}
