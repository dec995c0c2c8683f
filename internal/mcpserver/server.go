// Package mcpserver exposes stored submissions and the equipment catalog to
// AI assistants over the Model Context Protocol.
//
// The server is read-only: assistants can search and inspect what field
// technicians have submitted, but drafts are only ever edited through the
// HTTP API. All tools run against the same store and catalog snapshot the
// API serves, so an assistant and a dashboard always agree.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vdrs/dykscribe/internal/catalog"
	"github.com/vdrs/dykscribe/internal/submission"
	"github.com/vdrs/dykscribe/pkg/provider/embeddings"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// Option configures a [Server].
type Option func(*Server)

// WithEmbedder enables the similar search mode. Without it the
// search_submissions tool only supports keyword search.
func WithEmbedder(p embeddings.Provider) Option {
	return func(s *Server) { s.embedder = p }
}

// Server wraps an MCP server around the submission store.
type Server struct {
	store    submission.Store
	snapshot func() *catalog.Catalog
	embedder embeddings.Provider

	mcp *mcpsdk.Server
}

// New builds the server and registers its tools. snapshot must return the
// current catalog; it is called on every list_catalog invocation.
func New(store submission.Store, snapshot func() *catalog.Catalog, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("mcpserver: store must not be nil")
	}
	if snapshot == nil {
		return nil, errors.New("mcpserver: snapshot must not be nil")
	}

	s := &Server{
		store:    store,
		snapshot: snapshot,
	}
	for _, o := range opts {
		o(s)
	}

	s.mcp = mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: "dykscribe", Version: "1.0.0"},
		nil,
	)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "search_submissions",
		Description: "Search stored maintenance Q&A submissions by keyword or by semantic similarity.",
	}, s.searchSubmissions)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_submission",
		Description: "Fetch one submission in full: identity, equipment selection, notes, structured Q&A and transcript.",
	}, s.getSubmission)

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "list_catalog",
		Description: "List the current equipment catalog: users, manufacturers, equipment types and models.",
	}, s.listCatalog)

	return s, nil
}

// Run serves MCP over stdio until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect attaches the server to an arbitrary transport. Tests use this with
// in-memory transport pairs.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// ─── Views ───────────────────────────────────────────────────────────────────

// summaryView is the JSON shape returned for search results.
type summaryView struct {
	SubmissionID  string    `json:"submission_id"`
	UserName      string    `json:"user_name"`
	Role          string    `json:"role"`
	EntryDateTime time.Time `json:"entry_datetime"`
	Manufacturer  string    `json:"manufacturer,omitempty"`
	EquipmentType string    `json:"equipment_type,omitempty"`
	Model         string    `json:"model,omitempty"`
	NumQuestions  int       `json:"num_questions"`
	NumAnswers    int       `json:"num_answers"`
	PointsAwarded int       `json:"points_awarded"`
}

// recordView is the JSON shape for a full submission. Blobs are reported by
// size only; an assistant has no use for raw audio bytes.
type recordView struct {
	summaryView
	Specifications2 string `json:"specifications2,omitempty"`
	Specifications3 string `json:"specifications3,omitempty"`
	Notes           string `json:"notes,omitempty"`
	QAText          string `json:"qa_text"`
	Transcript      string `json:"transcript,omitempty"`
	AudioBytes      int64  `json:"audio_bytes"`
	ManualBytes     int64  `json:"manual_bytes"`
}

func viewSummary(sum submission.Summary) summaryView {
	return summaryView{
		SubmissionID:  sum.SubmissionID.String(),
		UserName:      sum.UserName,
		Role:          sum.Role,
		EntryDateTime: sum.EntryDateTime,
		Manufacturer:  sum.Manufacturer,
		EquipmentType: sum.EquipmentType,
		Model:         sum.Model,
		NumQuestions:  sum.NumQuestions,
		NumAnswers:    sum.NumAnswers,
		PointsAwarded: sum.PointsAwarded,
	}
}

func viewRecord(rec *submission.Record) recordView {
	return recordView{
		summaryView: summaryView{
			SubmissionID:  rec.SubmissionID.String(),
			UserName:      rec.UserName,
			Role:          rec.Role,
			EntryDateTime: rec.EntryDateTime,
			Manufacturer:  rec.Manufacturer,
			EquipmentType: rec.EquipmentType,
			Model:         rec.Model,
			NumQuestions:  rec.NumQuestions,
			NumAnswers:    rec.NumAnswers,
			PointsAwarded: rec.PointsAwarded,
		},
		Specifications2: rec.Specifications2,
		Specifications3: rec.Specifications3,
		Notes:           rec.Notes,
		QAText:          rec.QAText,
		Transcript:      rec.Transcript,
		AudioBytes:      int64(len(rec.AudioBlob)),
		ManualBytes:     int64(len(rec.ManualPDF)),
	}
}

// ─── Tools ───────────────────────────────────────────────────────────────────

type searchArgs struct {
	Query string `json:"query" jsonschema:"text to look for in stored submissions"`
	Mode  string `json:"mode,omitempty" jsonschema:"keyword (default) matches Q&A text and notes; similar ranks by embedding distance"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

func (s *Server) searchSubmissions(ctx context.Context, _ *mcpsdk.CallToolRequest, args searchArgs) (*mcpsdk.CallToolResult, any, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, nil, errors.New("query must not be empty")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	var (
		results []submission.Summary
		err     error
	)
	switch args.Mode {
	case "", "keyword":
		results, err = s.store.Search(ctx, query, limit)
	case "similar":
		if s.embedder == nil {
			return nil, nil, errors.New("similarity search is not available; no embeddings provider is configured")
		}
		results, err = submission.SearchSimilarText(ctx, s.store, s.embedder, query, limit)
	default:
		return nil, nil, fmt.Errorf("unknown mode %q; use keyword or similar", args.Mode)
	}
	if err != nil {
		return nil, nil, err
	}

	views := make([]summaryView, 0, len(results))
	for _, sum := range results {
		views = append(views, viewSummary(sum))
	}
	return textResult(views)
}

type getArgs struct {
	SubmissionID string `json:"submission_id" jsonschema:"UUID of the stored submission"`
}

func (s *Server) getSubmission(ctx context.Context, _ *mcpsdk.CallToolRequest, args getArgs) (*mcpsdk.CallToolResult, any, error) {
	id, err := uuid.Parse(args.SubmissionID)
	if err != nil {
		return nil, nil, fmt.Errorf("submission_id is not a valid UUID: %v", err)
	}
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, submission.ErrNotFound) {
		return nil, nil, fmt.Errorf("no submission with id %s", id)
	}
	if err != nil {
		return nil, nil, err
	}
	return textResult(viewRecord(rec))
}

type listCatalogArgs struct{}

// catalogView inlines the catalog next to its fingerprint so assistants can
// detect refreshes between calls.
type catalogView struct {
	Fingerprint string `json:"fingerprint"`
	*catalog.Catalog
}

func (s *Server) listCatalog(_ context.Context, _ *mcpsdk.CallToolRequest, _ listCatalogArgs) (*mcpsdk.CallToolResult, any, error) {
	cat := s.snapshot()
	if cat == nil {
		return nil, nil, errors.New("catalog is not loaded")
	}
	return textResult(catalogView{Fingerprint: cat.Fingerprint(), Catalog: cat})
}

// textResult marshals v and wraps it in a single text content block.
func textResult(v any) (*mcpsdk.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil, nil
}
