// Package ardrive moves cached files into Arweave permanent storage through
// the ArDrive Turbo service.
package ardrive

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// WincPerAR is the number of winston credits in one AR.
const WincPerAR = 1_000_000_000_000

var (
	// ErrNotConfigured indicates the backend lacks a wallet address or key.
	ErrNotConfigured = errors.New("ardrive backend not configured")
)

// Tag is an Arweave data item tag.
type Tag struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

type UploadRequest struct {
	Path string
	Size int64
	Tags []Tag
}

// UploadReceipt is what the backend reports after a successful upload.
type UploadReceipt struct {
	ID                  string   `json:"id"`
	Owner               string   `json:"owner"`
	DataCaches          []string `json:"dataCaches"`
	FastFinalityIndexes []string `json:"fastFinalityIndexes"`
}

// CheckoutRequest asks for a top-up session covering at least Winc credits.
type CheckoutRequest struct {
	Owner string
	Winc  int64
}

// Backend is the permanent-storage service. All amounts are in winc.
type Backend interface {
	Address(ctx context.Context) (string, error)
	GetBalance(ctx context.Context) (int64, error)
	GetUploadCost(ctx context.Context, bytes int64) (int64, error)
	UploadFile(ctx context.Context, req UploadRequest) (UploadReceipt, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// InsufficientBalanceError carries the top-up link returned when the wallet
// cannot pay for an upload.
type InsufficientBalanceError struct {
	Balance     int64
	Cost        int64
	CheckoutURL string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for upload: %d < %d winc", e.Balance, e.Cost)
}

// Balance is the wallet balance in winc plus its AR rendering.
type Balance struct {
	Address          string `json:"address,omitempty"`
	Balance          int64  `json:"balance"`
	FormattedBalance string `json:"formattedBalance"`
}

type CostEstimate struct {
	Winc       int64  `json:"winc"`
	AR         string `json:"ar"`
	Sufficient bool   `json:"sufficient"`
}

// Result is the outcome of a successful (or already completed) upload.
type Result struct {
	Success             bool     `json:"success"`
	FileID              string   `json:"fileId"`
	ArweaveID           string   `json:"arweave_id"`
	ArweaveURL          string   `json:"arweave_url"`
	TxID                string   `json:"txId,omitempty"`
	Owner               string   `json:"owner,omitempty"`
	DataCaches          []string `json:"dataCaches,omitempty"`
	FastFinalityIndexes []string `json:"fastFinalityIndexes,omitempty"`
	AlreadyUploaded     bool     `json:"alreadyUploaded,omitempty"`
}

// FormatAR renders winc as AR with six decimals.
func FormatAR(winc int64) string {
	return new(big.Rat).SetFrac(big.NewInt(winc), big.NewInt(WincPerAR)).FloatString(6)
}
