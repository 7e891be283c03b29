package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize bounds one ingest request.
const DefaultBatchSize = 50

// ingestPath is the aspect-ingestion endpoint on the catalog server.
const ingestPath = "/aspects?action=ingestProposal"

// EmitterConfig configures a REST emitter.
type EmitterConfig struct {
	// ServerURL is the catalog server base URL, e.g. http://localhost:8080.
	ServerURL string
	// Token is an optional bearer token.
	Token string
	// BatchSize bounds proposals per request; 0 means DefaultBatchSize.
	BatchSize int
	// Timeout applies per request when Client is nil.
	Timeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
	// Logger is optional; nil discards.
	Logger *slog.Logger
}

// Emitter ships change proposals to a metadata catalog over REST.
type Emitter struct {
	baseURL   string
	token     string
	batchSize int
	client    *http.Client
	logger    *slog.Logger
}

// EmitError reports a rejected ingest request.
type EmitError struct {
	StatusCode int
	Body       string
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("catalog server returned %d: %s", e.StatusCode, e.Body)
}

// NewEmitter creates an emitter.
func NewEmitter(cfg EmitterConfig) *Emitter {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Emitter{
		baseURL:   strings.TrimRight(cfg.ServerURL, "/"),
		token:     cfg.Token,
		batchSize: batch,
		client:    client,
		logger:    logger,
	}
}

// ingestBatch is the request envelope of one ingest call.
type ingestBatch struct {
	RunID     string           `json:"runId"`
	Proposals []ChangeProposal `json:"proposals"`
}

// Emit sends the proposals in batches. The whole run shares one run id; the
// first failed batch aborts the run.
func (e *Emitter) Emit(ctx context.Context, proposals []ChangeProposal) error {
	if len(proposals) == 0 {
		return nil
	}
	runID := uuid.NewString()
	e.logger.Info("emitting lineage", "run_id", runID, "proposals", len(proposals))

	for start := 0; start < len(proposals); start += e.batchSize {
		end := start + e.batchSize
		if end > len(proposals) {
			end = len(proposals)
		}
		if err := e.send(ctx, ingestBatch{RunID: runID, Proposals: proposals[start:end]}); err != nil {
			return fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		e.logger.Debug("batch accepted", "run_id", runID, "from", start, "to", end)
	}
	return nil
}

// Ping checks server reachability.
func (e *Emitter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	e.authorize(req)
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog server unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return &EmitError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

func (e *Emitter) send(ctx context.Context, batch ingestBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+ingestPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return &EmitError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

func (e *Emitter) authorize(req *http.Request) {
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(b))
}
