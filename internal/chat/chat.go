// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package chat implements the text-chat variant of the call-session
// engine: initiate/continue/speak/end operations driven by a
// long-polling chat-bot connection instead of a phone call. Uses
// go-resty/resty/v2 for the REST calls, the same HTTP client library
// the teacher uses for its other provider integrations.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rapidaai/voicebridge/internal/logging"
)

// Thread is one chat conversation, analogous to a phone session: it
// holds the transcript and the channels continueCall/endCall block on.
type Thread struct {
	ID      string
	ChatID  string
	mu      sync.Mutex
	history []string
	inbound chan string
	verbose bool
	endedCh chan struct{}
	onceEnd sync.Once
}

// Engine polls a chat platform's getUpdates endpoint for new inbound
// messages and offers operations named like session.Engine's
// (InitiateCall, Listen, SpeakToUser, Continue, EndCall). The stdio
// dispatcher is built on session.Engine only; it does not route tool
// calls to this engine.
type Engine struct {
	logger logging.Logger
	client *resty.Client
	token  string

	mu           sync.Mutex
	threads      map[string]*Thread
	globalOffset int64

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func NewEngine(logger logging.Logger, baseURL, token string) *Engine {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")

	return &Engine{
		logger:  logger,
		client:  client,
		token:   token,
		threads: make(map[string]*Thread),
	}
}

// StartPolling launches the background long-poll loop. Cancelling ctx
// (or calling StopPolling) stops it.
func (e *Engine) StartPolling(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.pollCancel = cancel
	e.pollDone = make(chan struct{})
	go e.pollLoop(ctx)
}

func (e *Engine) StopPolling() {
	if e.pollCancel != nil {
		e.pollCancel()
		<-e.pollDone
	}
}

type update struct {
	UpdateID int64  `json:"update_id"`
	ChatID   string `json:"chat_id"`
	Text     string `json:"text"`
}

type getUpdatesResponse struct {
	Updates []update `json:"updates"`
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer close(e.pollDone)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	e.mu.Lock()
	offset := e.globalOffset
	e.mu.Unlock()

	var out getUpdatesResponse
	_, err := e.client.R().
		SetContext(ctx).
		SetQueryParam("offset", fmt.Sprintf("%d", offset)).
		SetResult(&out).
		Get("/getUpdates")
	if err != nil {
		e.logger.Debugf("chat: getUpdates failed: %v", err)
		return
	}

	// global_offset only ever advances: each processed update id+1
	// becomes the new floor, so a retried poll never redelivers it.
	highWaterMark := offset
	for _, u := range out.Updates {
		e.routeUpdate(u)
		if u.UpdateID+1 > highWaterMark {
			highWaterMark = u.UpdateID + 1
		}
	}

	e.mu.Lock()
	if highWaterMark > e.globalOffset {
		e.globalOffset = highWaterMark
	}
	e.mu.Unlock()
}

func (e *Engine) routeUpdate(u update) {
	e.mu.Lock()
	thread, ok := e.threads[u.ChatID]
	e.mu.Unlock()
	if !ok {
		return
	}

	text := strings.TrimSpace(u.Text)
	switch text {
	case "/verbose":
		thread.mu.Lock()
		thread.verbose = true
		thread.mu.Unlock()
		return
	case "/help":
		_ = e.sendMessage(context.Background(), thread.ChatID, "Commands: /verbose, /help")
		return
	}

	select {
	case thread.inbound <- text:
	default:
	}
}

// InitiateCall opens a new chat thread for chatID and sends the
// opening text, mirroring the phone-call variant's initiate(text):
// allocate the session, then speak before the caller (here, the chat
// recipient) hears anything back.
func (e *Engine) InitiateCall(ctx context.Context, chatID, text string) (*Thread, error) {
	t := &Thread{
		ID:      chatID,
		ChatID:  chatID,
		inbound: make(chan string, 8),
		endedCh: make(chan struct{}),
	}
	e.mu.Lock()
	e.threads[chatID] = t
	e.mu.Unlock()

	if err := e.deliver(ctx, t, text); err != nil {
		return nil, err
	}
	return t, nil
}

// Listen blocks until the user sends a message or the thread ends.
func (e *Engine) Listen(ctx context.Context, threadID string) (string, error) {
	e.mu.Lock()
	t, ok := e.threads[threadID]
	e.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("chat: unknown thread %s", threadID)
	}

	select {
	case text := <-t.inbound:
		t.mu.Lock()
		t.history = append(t.history, "user: "+text)
		t.mu.Unlock()
		return text, nil
	case <-t.endedCh:
		return "", fmt.Errorf("chat: thread %s has ended", threadID)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SpeakToUser sends text to the user. A markdown send rejected with a
// 400 "can't parse entities" error is retried once as plain text;
// other send failures are returned as they are.
func (e *Engine) SpeakToUser(ctx context.Context, threadID, text string) error {
	e.mu.Lock()
	t, ok := e.threads[threadID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("chat: unknown thread %s", threadID)
	}
	return e.deliver(ctx, t, text)
}

// Continue composes speak-then-listen into a single call, mirroring
// the phone-call variant's continue(session-id, text).
func (e *Engine) Continue(ctx context.Context, threadID, text string) (string, error) {
	if err := e.SpeakToUser(ctx, threadID, text); err != nil {
		return "", err
	}
	return e.Listen(ctx, threadID)
}

// deliver sends text to the thread's chat recipient, retrying once as
// plain text if the backend rejects the markdown send, and appends
// the message to the thread's history.
func (e *Engine) deliver(ctx context.Context, t *Thread, text string) error {
	if err := e.sendMessageMarkdown(ctx, t.ChatID, text); err != nil {
		if !isParseEntitiesError(err) {
			return err
		}
		e.logger.Debugf("chat: markdown rejected (%v), retrying as plain text", err)
		if err := e.sendMessage(ctx, t.ChatID, text); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.history = append(t.history, "assistant: "+text)
	t.mu.Unlock()
	return nil
}

// EndCall closes the thread. Idempotent.
func (e *Engine) EndCall(ctx context.Context, threadID string) error {
	e.mu.Lock()
	t, ok := e.threads[threadID]
	if ok {
		delete(e.threads, threadID)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	t.onceEnd.Do(func() { close(t.endedCh) })
	return nil
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (e *Engine) sendMessage(ctx context.Context, chatID, text string) error {
	resp, err := e.client.R().SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: chatID, Text: text}).
		Post("/sendMessage")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("chat: sendMessage failed: status %d", resp.StatusCode())
	}
	return nil
}

func (e *Engine) sendMessageMarkdown(ctx context.Context, chatID, text string) error {
	resp, err := e.client.R().SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"}).
		Post("/sendMessage")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("chat: markdown sendMessage failed: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// isParseEntitiesError matches the one chat-API error this engine
// treats as retryable: a 400 whose body names bad markdown entities,
// as opposed to a genuine outage or auth failure.
func isParseEntitiesError(err error) bool {
	return strings.Contains(err.Error(), "400") && strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}
