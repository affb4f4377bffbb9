// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package dispatcher exposes the session engine to the upstream
// coding-assistant as a stdio MCP tool server: initiate_call,
// continue_call, speak_to_user, end_call. Built on
// github.com/mark3labs/mcp-go/server, the natural server-side
// counterpart to the teacher's client-side use of the same module in
// internal/agent/tool/mcp/caller.go.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/session"
)

// Dispatcher owns the MCP server and maps each tool call onto the
// matching session.Engine operation, translating every engine error
// into a tool-error content block instead of letting it reach the
// process boundary as a crash.
type Dispatcher struct {
	logger logging.Logger
	engine *session.Engine
	mcp    *server.MCPServer
}

func New(logger logging.Logger, engine *session.Engine) *Dispatcher {
	d := &Dispatcher{
		logger: logger,
		engine: engine,
		mcp:    server.NewMCPServer("voicebridge", "1.0.0"),
	}
	d.registerTools()
	return d
}

func (d *Dispatcher) registerTools() {
	d.mcp.AddTool(
		mcp.NewTool("initiate_call",
			mcp.WithDescription("Places an outbound phone call, speaks the given opening text the instant the caller picks up, and returns the session id together with the caller's reply transcript."),
			mcp.WithString("to", mcp.Required(), mcp.Description("E.164 destination phone number")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Opening utterance to speak once the call connects")),
		),
		d.initiateCall,
	)

	d.mcp.AddTool(
		mcp.NewTool("continue_call",
			mcp.WithDescription("Speaks text to the caller, then waits for them to finish speaking and returns the recognized transcript."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by initiate_call")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Text for the assistant to speak before listening")),
		),
		d.continueCall,
	)

	d.mcp.AddTool(
		mcp.NewTool("speak_to_user",
			mcp.WithDescription("Synthesizes text to speech and plays it to the caller without waiting for a reply."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by initiate_call")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Text for the assistant to speak")),
		),
		d.speakToUser,
	)

	d.mcp.AddTool(
		mcp.NewTool("end_call",
			mcp.WithDescription("Optionally speaks a farewell, then ends the call and releases the session's resources."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by initiate_call")),
			mcp.WithString("text", mcp.Description("Optional farewell to speak before hanging up")),
		),
		d.endCall,
	)
}

func (d *Dispatcher) initiateCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, transcript, err := d.engine.InitiateCall(ctx, to, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("session_id=%s\ntranscript=%s", sess.ID, transcript)), nil
}

func (d *Dispatcher) continueCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	transcript, err := d.engine.Continue(ctx, sessionID, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(transcript), nil
}

func (d *Dispatcher) speakToUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := d.engine.SpeakToUser(ctx, sessionID, text); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (d *Dispatcher) endCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := req.GetString("text", "")
	if err := d.engine.EndCall(ctx, sessionID, text); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

// ServeStdio blocks, serving MCP tool calls over stdin/stdout until
// the transport closes.
func (d *Dispatcher) ServeStdio() error {
	return server.ServeStdio(d.mcp)
}
