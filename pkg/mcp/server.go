// Package mcp exposes the job manager to automation clients as an MCP server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/jobs"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/store/postgres"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const (
	ServerName    = "polyglot-stt"
	ServerVersion = "1.0.0"

	JobSchemaURI = "jobs://schema"

	DefaultWaitTimeout = 10 * time.Minute
	defaultSearchLimit = 20
)

// JobManager is the subset of *jobs.Manager the server drives.
type JobManager interface {
	AddJob(ctx context.Context, sourcePath string, filename string) (*model.Job, error)
	CancelJob(id string) error
	RetryJob(id string) error
	RemoveJob(id string) error
	Jobs() []model.Job
	Job(id string) (model.Job, error)
	WaitForJob(ctx context.Context, id string, timeout time.Duration) (model.Job, error)
	Events() *jobs.EventBus
}

// TranscriptSearcher runs full-text queries over indexed transcripts.
type TranscriptSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]postgres.SearchHit, error)
}

type options struct {
	searcher    TranscriptSearcher
	waitTimeout time.Duration
	version     string
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

// WithSearcher registers the search_transcripts tool.
func WithSearcher(searcher TranscriptSearcher) Option {
	return optionFunc(func(o *options) {
		o.searcher = searcher
	})
}

// WithWaitTimeout caps wait_for_job when the caller gives no timeout.
func WithWaitTimeout(timeout time.Duration) Option {
	return optionFunc(func(o *options) {
		if timeout > 0 {
			o.waitTimeout = timeout
		}
	})
}

func WithVersion(version string) Option {
	return optionFunc(func(o *options) {
		if strings.TrimSpace(version) != "" {
			o.version = version
		}
	})
}

type handlers struct {
	manager JobManager
	opts    options
}

// NewServer builds an MCP server whose tools map one-to-one onto job manager operations.
func NewServer(manager JobManager, opts ...Option) (*server.MCPServer, error) {
	if manager == nil {
		return nil, utils.WrapIfNotNil(errors.New("job manager is required"))
	}

	resolved := options{waitTimeout: DefaultWaitTimeout, version: ServerVersion}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&resolved)
		}
	}
	h := &handlers{manager: manager, opts: resolved}

	s := server.NewMCPServer(
		ServerName,
		resolved.version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.AddTool(mcp.NewTool("add_job",
		mcp.WithDescription("Stage and prepare an audio file, then queue it for transcription."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the audio file on the server host")),
		mcp.WithString("filename", mcp.Description("Display name; defaults to the base name of path")),
	), h.addJob)

	s.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List every job ordered by creation time."),
		mcp.WithString("status", mcp.Description("Only return jobs with this status")),
	), h.listJobs)

	s.AddTool(mcp.NewTool("get_job",
		mcp.WithDescription("Return one job including its transcript when completed."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Job id")),
	), h.getJob)

	s.AddTool(mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a queued or transcribing job. Terminal jobs are left unchanged."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Job id")),
	), h.jobAction(manager.CancelJob))

	s.AddTool(mcp.NewTool("retry_job",
		mcp.WithDescription("Requeue a failed or cancelled job at the front of the queue."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Job id")),
	), h.jobAction(manager.RetryJob))

	s.AddTool(mcp.NewTool("remove_job",
		mcp.WithDescription("Delete a job and its staged audio."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Job id")),
	), h.removeJob)

	s.AddTool(mcp.NewTool("wait_for_job",
		mcp.WithDescription("Block until the job completes, fails or is cancelled."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Job id")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Give up after this many seconds")),
	), h.waitForJob)

	s.AddTool(mcp.NewTool("job_events",
		mcp.WithDescription("Return scheduler events newer than a sequence number."),
		mcp.WithNumber("since", mcp.Description("Last sequence number already seen")),
		mcp.WithString("id", mcp.Description("Only return events for this job")),
	), h.jobEvents)

	if resolved.searcher != nil {
		s.AddTool(mcp.NewTool("search_transcripts",
			mcp.WithDescription("Full-text search over completed transcripts."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of hits")),
		), h.searchTranscripts)
	}

	s.AddResource(mcp.NewResource(JobSchemaURI, "Job schema",
		mcp.WithResourceDescription("JSON schema of the job documents returned by the tools"),
		mcp.WithMIMEType("application/json"),
	), h.jobSchema)

	return s, nil
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(ctx context.Context, s *server.MCPServer) error {
	log := logging.NewComponentLogger(ctx, "mcp")
	log.Infof("mcp_serve transport=stdio name=%s", ServerName)
	return utils.WrapIfNotNil(server.ServeStdio(s))
}

func (h *handlers) addJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename := strings.TrimSpace(req.GetString("filename", ""))
	if filename == "" {
		filename = filepath.Base(path)
	}

	job, err := h.manager.AddJob(ctx, path, filename)
	if err != nil {
		return toolError(ctx, "add_job", err), nil
	}
	return jsonResult(job)
}

func (h *handlers) listJobs(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := model.JobStatus(strings.TrimSpace(req.GetString("status", "")))

	all := h.manager.Jobs()
	out := make([]model.Job, 0, len(all))
	for _, job := range all {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job)
	}
	return jsonResult(out)
}

func (h *handlers) getJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := h.manager.Job(id)
	if err != nil {
		return toolError(ctx, "get_job", err), nil
	}
	return jsonResult(job)
}

// jobAction runs a state transition and returns the job as it stands afterwards.
func (h *handlers) jobAction(action func(id string) error) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := action(id); err != nil {
			return toolError(ctx, req.Params.Name, err), nil
		}
		job, err := h.manager.Job(id)
		if err != nil {
			return toolError(ctx, req.Params.Name, err), nil
		}
		return jsonResult(job)
	}
}

func (h *handlers) removeJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.manager.RemoveJob(id); err != nil {
		return toolError(ctx, "remove_job", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed %s", id)), nil
}

func (h *handlers) waitForJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := h.opts.waitTimeout
	if seconds := req.GetFloat("timeout_seconds", 0); seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	job, err := h.manager.WaitForJob(ctx, id, timeout)
	if err != nil {
		return toolError(ctx, "wait_for_job", err), nil
	}
	return jsonResult(job)
}

func (h *handlers) jobEvents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since := int64(req.GetFloat("since", 0))
	id := strings.TrimSpace(req.GetString("id", ""))

	events := h.manager.Events().Since(since)
	out := make([]jobs.Event, 0, len(events))
	for _, event := range events {
		if id != "" && event.JobID != id {
			continue
		}
		out = append(out, event)
	}
	return jsonResult(out)
}

func (h *handlers) searchTranscripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := int(req.GetFloat("limit", defaultSearchLimit))

	hits, err := h.opts.searcher.Search(ctx, query, limit)
	if err != nil {
		return toolError(ctx, "search_transcripts", err), nil
	}
	if hits == nil {
		hits = []postgres.SearchHit{}
	}
	return jsonResult(hits)
}

func (h *handlers) jobSchema(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	schema, err := utils.JSONSchema[model.Job]()
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	body, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(body),
		},
	}, nil
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

// toolError reports err to the client as a tool failure so the caller can recover.
func toolError(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	logging.NewComponentLogger(ctx, "mcp").Warnf("mcp_tool_failed tool=%s error=%v", tool, err)
	return mcp.NewToolResultError(model.UserMessage(err))
}
