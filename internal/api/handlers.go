package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/Akasha/internal/genai"
	"github.com/BTreeMap/Akasha/internal/models"
)

// rootHandler reports service metadata.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"name":        "Akasha",
		"version":     Version,
		"description": "Multi-Service WhatsApp Platform",
		"services":    []string{"mandarin_generator", "reply_agent", "chat_summarizer"},
	})
}

// webhookHandler ingests GoWA webhook events. The body is authenticated
// before parsing; after that every outcome is acknowledged with
// {"status":"ok"} so the gateway never retries events we chose to skip.
// Processing happens on a separate goroutine per event.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("Server.webhookHandler: failed to read request body", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}

	if s.secretConfigured() {
		if err := VerifySignature(s.secret, body, r.Header.Get(SignatureHeader)); err != nil {
			slog.Warn("Server.webhookHandler: invalid webhook signature", "remote_addr", r.RemoteAddr)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
			return
		}
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Warn("Server.webhookHandler: failed to parse webhook payload", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}

	s.processor.HandleAsync(&event)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// healthHandler reports gateway connectivity and scheduler state.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultHealthTimeout)
	defer cancel()

	gowaConnected := s.gateway.CheckHealth(ctx)
	schedulerRunning := s.sched.Running()

	status := "healthy"
	code := http.StatusOK
	if !gowaConnected || !schedulerRunning {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, code, map[string]interface{}{
		"status":            status,
		"gowa_connected":    gowaConnected,
		"scheduler_running": schedulerRunning,
	})
}

// queryHandler answers a direct question through the orchestrator and
// optionally forwards the answer to a WhatsApp recipient.
func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	completion, err := s.orch.Answer(r.Context(), &genai.QueryInput{
		Query:         req.Query,
		QuotedContext: req.QuotedContext,
	})
	if err != nil {
		slog.Error("Server.queryHandler: query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process query"))
		return
	}

	result := models.QueryResult{
		Response:     completion.Text,
		SourcesUsed:  completion.Sources,
		ProviderUsed: completion.Provider,
	}
	if req.Recipient != "" {
		if _, sendErr := s.dispatcher.Send(r.Context(), req.Recipient, completion.Text, models.MessageLogKindQuery); sendErr != nil {
			slog.Error("Server.queryHandler: failed to send response", "recipient", req.Recipient, "error", sendErr)
		} else {
			result.SentTo = req.Recipient
		}
	}

	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// statusHandler reports the agent configuration snapshot.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"primary_provider":      s.orch.Primary(),
		"providers":             s.orch.ProviderNames(),
		"fallback_enabled":      s.orch.Fallback(),
		"trigger_phrase":        s.classifier.Phrase(),
		"web_search_configured": s.search != nil && s.search.Configured(),
		"recipients_configured": len(s.generator.Recipients()),
		"scheduler_running":     s.sched.Running(),
	}))
}

// generatePassageHandler generates a Mandarin passage on demand. An explicit
// recipient overrides the configured list; sends run on a detached context so
// a dropped client does not abort a broadcast mid-flight.
func (s *Server) generatePassageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.GeneratePassageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultJobTimeout)
	defer cancel()

	p, err := s.generator.Generate(ctx, req.Topic)
	if err != nil {
		slog.Error("Server.generatePassageHandler: generation failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate passage"))
		return
	}

	recipients := s.generator.Recipients()
	if req.Recipient != "" {
		recipients = []string{req.Recipient}
	}
	sentTo := s.generator.Broadcast(ctx, p, recipients)

	writeJSONResponse(w, http.StatusOK, models.Success(models.PassageResult{
		Passage:     p.Content,
		Topic:       p.Topic,
		GeneratedAt: p.CreatedAt,
		SentTo:      sentTo,
	}))
}

// triggerDailyHandler runs the daily passage job immediately. The job runs on
// a detached context for the same reason as generatePassageHandler.
func (s *Server) triggerDailyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultJobTimeout)
	defer cancel()

	if err := s.generator.SendDaily(ctx); err != nil {
		slog.Error("Server.triggerDailyHandler: daily job failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Daily passage job failed"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Daily passage job completed", nil))
}

// summarizeHandler summarizes recent messages from a chat.
func (s *Server) summarizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.SummarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result, err := s.summarizer.Summarize(r.Context(), req.ChatJID, req.MessageCount)
	if err != nil {
		slog.Error("Server.summarizeHandler: summarization failed", "chat_jid", req.ChatJID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to summarize chat"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(result))
}
