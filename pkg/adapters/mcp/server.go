package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/adapters/yamlfile"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/runner"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

// DialogURI is the resource exposing the dialog definition.
const DialogURI = "parley://dialog"

// ChannelID is the channel id given to turns arriving over MCP.
const ChannelID = "mcp"

// TurnResponse is the structured result of the conversation tools.
type TurnResponse struct {
	ConversationID string            `json:"conversation_id" jsonschema_description:"The conversation the turn was processed in"`
	Activities     []domain.Activity `json:"activities" jsonschema_description:"Messages the bot sent in reply, in order"`
}

// Engine is the part of the dialog engine exposed over MCP.
type Engine interface {
	ProcessTurn(ctx context.Context, turn domain.ConversationTurn) ([]domain.Activity, error)
	SignOut(ctx context.Context, ref domain.ConversationRef, connection string) error
	Dialog() domain.Dialog
}

// Server wraps the engine and exposes it as an MCP server.
type Server struct {
	engine     Engine
	connection string
	botID      string
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConnection sets the auth connection sign_out uses when none is given.
func WithConnection(name string) Option {
	return func(s *Server) { s.connection = name }
}

// WithBotID sets the recipient id of the turns the tools create.
func WithBotID(id string) Option {
	return func(s *Server) {
		if id != "" {
			s.botID = id
		}
	}
}

// NewServer creates a new MCP server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		botID:  "parley",
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer("parley-mcp", strings.TrimSpace(parley.Version),
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://" + addr
	if strings.HasPrefix(addr, ":") {
		baseURL = "http://localhost" + addr
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a user message to a conversation and return the bot's replies."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation to talk in")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Id of the user speaking")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text, or the sign-in code")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleSendMessage))

	s.mcpServer.AddTool(mcp.NewTool("join_conversation",
		mcp.WithDescription("Add a user to a conversation, which triggers the welcome."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation to join")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Id of the joining user")),
		mcp.WithString("user_name", mcp.Description("Display name of the joining user")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleJoin))

	s.mcpServer.AddTool(mcp.NewTool("sign_out",
		mcp.WithDescription("Sign the user out of the auth connection and cancel any pending sign-in."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation of the user")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Id of the user")),
		mcp.WithString("connection", mcp.Description("Auth connection name (defaults to the configured one)")),
	), s.handleSignOut)
}

func (s *Server) turn(args map[string]any, typ domain.TurnType) domain.ConversationTurn {
	conversationID, _ := args["conversation_id"].(string)
	userID, _ := args["user_id"].(string)
	return domain.ConversationTurn{
		ID:             uuid.NewString(),
		Type:           typ,
		ChannelID:      ChannelID,
		ConversationID: conversationID,
		From:           domain.ChannelAccount{ID: userID},
		Recipient:      domain.ChannelAccount{ID: s.botID},
		Timestamp:      time.Now().UTC(),
	}
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (TurnResponse, error) {
	text, _ := args["text"].(string)
	clean, err := runner.SanitizeInput(text)
	if err != nil {
		s.logger.Warn("MCP send_message: input rejected", "err", err, "size", len(text))
		return TurnResponse{}, fmt.Errorf("input rejected: %w", err)
	}

	turn := s.turn(args, domain.TurnMessage)
	turn.Text = clean
	return s.process(ctx, turn)
}

func (s *Server) handleJoin(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (TurnResponse, error) {
	turn := s.turn(args, domain.TurnConversationUpdate)
	name, _ := args["user_name"].(string)
	turn.MembersAdded = []domain.ChannelAccount{{ID: turn.From.ID, Name: name}}
	return s.process(ctx, turn)
}

func (s *Server) process(ctx context.Context, turn domain.ConversationTurn) (TurnResponse, error) {
	activities, err := s.engine.ProcessTurn(ctx, turn)
	if err != nil && len(activities) == 0 {
		s.logger.Error("MCP turn failed", "err", err, "conversation_id", turn.ConversationID)
		if errors.Is(err, domain.ErrInvalidTurn) {
			return TurnResponse{}, err
		}
		return TurnResponse{}, errors.New("the turn could not be processed")
	}
	if activities == nil {
		activities = []domain.Activity{}
	}
	return TurnResponse{ConversationID: turn.ConversationID, Activities: activities}, nil
}

func (s *Server) handleSignOut(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	conversationID, _ := args["conversation_id"].(string)
	userID, _ := args["user_id"].(string)
	connection, _ := args["connection"].(string)
	if connection == "" {
		connection = s.connection
	}
	if conversationID == "" || userID == "" {
		return mcp.NewToolResultError("conversation_id and user_id are required"), nil
	}

	ref := domain.ConversationRef{ChannelID: ChannelID, ConversationID: conversationID, UserID: userID}
	if err := s.engine.SignOut(ctx, ref, connection); err != nil {
		s.logger.Error("MCP sign_out failed", "err", err, "conversation_id", conversationID)
		return mcp.NewToolResultError("sign out failed"), nil
	}
	return mcp.NewToolResultText("signed out"), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(DialogURI, "Dialog Definition",
		mcp.WithMIMEType("application/yaml"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := yamlfile.MarshalDialog(s.engine.Dialog())
		if err != nil {
			return nil, fmt.Errorf("failed to encode dialog: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      DialogURI,
				MIMEType: "application/yaml",
				Text:     string(data),
			},
		}, nil
	})
}
