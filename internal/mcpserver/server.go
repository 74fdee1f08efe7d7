// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes BarterMate tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/bartermate/internal/apperr"
	"github.com/starford/bartermate/internal/barterservice"
	"github.com/starford/bartermate/internal/models"
)

// Server wraps the MCP server with BarterMate tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *barterservice.Service
	dataDir string
}

// New creates a new MCP server with all BarterMate tools registered.
// Attached images are stored under dataDir.
func New(svc *barterservice.Service, dataDir string) *Server {
	s := &Server{svc: svc, dataDir: dataDir}

	s.mcp = server.NewMCPServer(
		"BarterMate",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_feed",
		mcp.WithDescription("List barter offers, premium and nearest first. "+
			"Set refresh to fetch from the server; offline, the last cached feed is returned with degraded=true."),
		mcp.WithString("category", mcp.Description("Optional category tag to filter by")),
		mcp.WithBoolean("refresh", mcp.Description("Fetch from the server before answering")),
	), s.getFeed)

	s.mcp.AddTool(mcp.NewTool("get_draft",
		mcp.WithDescription("Read the listing draft being composed on this device."),
	), s.getDraft)

	s.mcp.AddTool(mcp.NewTool("save_draft",
		mcp.WithDescription("Replace the listing draft. Fields follow the draft contract "+
			"(get it from the bartermate://draft-format resource)."),
		mcp.WithString("title", mcp.Description("Listing title")),
		mcp.WithString("description", mcp.Description("Listing description")),
		mcp.WithString("category", mcp.Description("Category tag")),
		mcp.WithString("wanted_category", mcp.Description("Category wanted in exchange, or none")),
		mcp.WithString("wanted_details", mcp.Description("What is wanted in exchange")),
		mcp.WithBoolean("is_free", mcp.Description("Offered for free")),
		mcp.WithNumber("latitude", mcp.Description("Latitude in degrees")),
		mcp.WithNumber("longitude", mcp.Description("Longitude in degrees")),
		mcp.WithString("image_uri", mcp.Description("https URL or local file path of the photo")),
	), s.saveDraft)

	s.mcp.AddTool(mcp.NewTool("clear_draft",
		mcp.WithDescription("Discard the listing draft."),
	), s.clearDraft)

	s.mcp.AddTool(mcp.NewTool("attach_image",
		mcp.WithDescription("Attach a photo to the draft from a base64 data URI (png, jpg, gif, webp)."),
		mcp.WithString("data_uri", mcp.Required(), mcp.Description("data:image/...;base64,... URI")),
		mcp.WithString("filename", mcp.Description("Optional original filename")),
	), s.attachImage)

	s.mcp.AddTool(mcp.NewTool("set_location",
		mcp.WithDescription("Report the user's current position; the feed is re-sorted nearest first."),
		mcp.WithNumber("latitude", mcp.Required(), mcp.Description("Latitude in degrees")),
		mcp.WithNumber("longitude", mcp.Required(), mcp.Description("Longitude in degrees")),
	), s.setLocation)

	s.mcp.AddTool(mcp.NewTool("sync_now",
		mcp.WithDescription("Submit the draft if it is complete, then refresh the feed."),
	), s.syncNow)

	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report connectivity, degraded feed, pending draft and sync state."),
	), s.status)

	s.mcp.AddResource(
		mcp.NewResource("bartermate://draft-format", "Draft Contract",
			mcp.WithResourceDescription("Listing draft fields and submission rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDraftFormatResource,
	)

	return s
}

// ServeStdio serves MCP on stdin/stdout until ctx is cancelled or stdin
// closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) getFeed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := models.Category(req.GetString("category", ""))
	var (
		res any
		err error
	)
	if req.GetBool("refresh", false) {
		res, err = s.svc.RefreshFeed(ctx, category)
	} else {
		res, err = s.svc.Feed(category)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) getDraft(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, err := s.svc.Draft(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultText("no draft"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d), nil
}

func (s *Server) saveDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d := models.Draft{
		Title:          req.GetString("title", ""),
		Description:    req.GetString("description", ""),
		Category:       models.Category(req.GetString("category", "")),
		WantedCategory: models.Category(req.GetString("wanted_category", "")),
		WantedDetails:  req.GetString("wanted_details", ""),
		IsFree:         req.GetBool("is_free", false),
		ImageURI:       req.GetString("image_uri", ""),
	}

	args := req.GetArguments()
	_, hasLat := args["latitude"]
	_, hasLon := args["longitude"]
	if hasLat != hasLon {
		return mcp.NewToolResultError("latitude and longitude must be given together"), nil
	}
	if hasLat {
		d.Location = &models.Coordinate{
			Latitude:  req.GetFloat("latitude", 0),
			Longitude: req.GetFloat("longitude", 0),
		}
	}

	if current, err := s.svc.Draft(ctx); err == nil {
		d.ID = current.ID
		if _, ok := args["image_uri"]; !ok {
			d.ImageURI = current.ImageURI
		}
	}
	saved, err := s.svc.SaveDraft(ctx, d, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"draft":    saved,
		"complete": !saved.Incomplete(),
	}), nil
}

func (s *Server) clearDraft(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.ClearDraft(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("draft cleared"), nil
}

func (s *Server) setLocation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lat, err := req.RequireFloat("latitude")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lon, err := req.RequireFloat("longitude")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.SetLocation(ctx, &models.Coordinate{Latitude: lat, Longitude: lon}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Feed("")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) syncNow(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Sync(ctx)), nil
}

func (s *Server) status(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Status(ctx)), nil
}

func (s *Server) readDraftFormatResource(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     DraftFormatContract,
		},
	}, nil
}
