// Package pipeline implements the Request Pipeline (component H): it
// orchestrates the router, dialect translators, performance tracker,
// cache estimator, cost calculator, and provider client for both the
// buffered and streaming paths, and hands one CallLog to the telemetry
// writer per request. Nothing downstream of Pipeline needs to know the
// client's dialect differs from the provider's — that is resolved
// once, here, and carried as a router.Decision.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/howard-nolan/llmrouter/internal/cache"
	"github.com/howard-nolan/llmrouter/internal/dialect"
	"github.com/howard-nolan/llmrouter/internal/obslog"
	"github.com/howard-nolan/llmrouter/internal/perf"
	"github.com/howard-nolan/llmrouter/internal/provider"
	"github.com/howard-nolan/llmrouter/internal/router"
	"github.com/howard-nolan/llmrouter/internal/stream"
	"github.com/howard-nolan/llmrouter/internal/telemetry"
)

// RequestContext is the minimal slice of an inbound HTTP request the
// pipeline needs: method, URL, headers, client identity. The HTTP
// layer fills one in per request so the pipeline never touches
// *http.Request itself.
type RequestContext struct {
	Method     string
	URL        string
	Headers    map[string]string
	Query      map[string]string
	ClientAddr string
	UserAgent  string
	UserID     string
	SessionID  string
	ProxyUsed  string
}

// Pipeline wires every core component together. One Pipeline is built
// at startup and shared across all concurrent requests — everything it
// holds is either read-only (Router) or independently concurrency-safe
// (cache.Estimator, telemetry.Store).
type Pipeline struct {
	Router    *router.Router
	Cache     *cache.Estimator
	Telemetry *telemetry.Store
	Log       *obslog.Logger
}

// New builds a Pipeline from its collaborators.
func New(r *router.Router, c *cache.Estimator, t *telemetry.Store, logger *obslog.Logger) *Pipeline {
	if logger == nil {
		logger = obslog.NewNop()
	}
	return &Pipeline{Router: r, Cache: c, Telemetry: t, Log: logger}
}

// newRequestID mints a ULID-based request_id, lexically sortable by
// creation time.
func newRequestID() string {
	return ulid.Make().String()
}

// Endpoint names the client-facing route, stored in CallLog.Endpoint.
type Endpoint string

const (
	EndpointMessages       Endpoint = "messages"
	EndpointChatCompletion Endpoint = "chat/completions"
)

func endpointForDialect(d dialect.Dialect) Endpoint {
	if d == dialect.AnthropicCompatible {
		return EndpointMessages
	}
	return EndpointChatCompletion
}

// BadClientRequest means the incoming body couldn't be parsed into the
// client's dialect shape, or was missing a required field like model.
// HTTP 400; no CallLog is written since nothing happened upstream.
type BadClientRequest struct {
	Reason string
}

func (e *BadClientRequest) Error() string {
	return fmt.Sprintf("bad client request: %s", e.Reason)
}

// clientRequest is the dialect-neutral view of the client body that
// decodeClientRequest produces: the native request object (for
// serializing to the provider), its model name, its message turns (for
// cache estimation), and whether streaming was requested.
type clientRequest struct {
	model      string
	streamWant bool
	turns      []dialect.Turn
	// native holds the already-decoded client-dialect request object:
	// marshaled as-is in passthrough mode, translated first otherwise
	// (see translatedBody).
	native any
}

func decodeClientRequest(clientDialect dialect.Dialect, body []byte) (clientRequest, error) {
	switch clientDialect {
	case dialect.AnthropicCompatible:
		var req dialect.AnthropicRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return clientRequest{}, &BadClientRequest{Reason: "invalid anthropic request body: " + err.Error()}
		}
		if req.Model == "" {
			return clientRequest{}, &BadClientRequest{Reason: "missing model"}
		}
		return clientRequest{model: req.Model, streamWant: req.Stream, turns: req.Turns(), native: req}, nil
	default:
		var req dialect.OpenAIRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return clientRequest{}, &BadClientRequest{Reason: "invalid openai request body: " + err.Error()}
		}
		if req.Model == "" {
			return clientRequest{}, &BadClientRequest{Reason: "missing model"}
		}
		return clientRequest{model: req.Model, streamWant: req.Stream, turns: req.Turns(), native: req}, nil
	}
}

// translatedBody applies decision.TranslateMode to the client's native
// request and serializes the result to the bytes the provider expects.
func translatedBody(decision router.Decision, creq clientRequest) ([]byte, error) {
	switch decision.TranslateMode {
	case dialect.OpenAIToAnthropic:
		out := dialect.RequestOpenAIToAnthropic(creq.native.(dialect.OpenAIRequest))
		return json.Marshal(out)
	case dialect.AnthropicToOpenAI:
		out := dialect.RequestAnthropicToOpenAI(creq.native.(dialect.AnthropicRequest))
		return json.Marshal(out)
	default:
		return json.Marshal(creq.native)
	}
}

// Result is what Handle gives back to the HTTP layer (HandleStream
// writes to its ResponseWriter directly and returns nothing): the
// status to mirror, the response body already in the client's dialect,
// and whether the call is considered a pipeline-level failure (used to
// pick response headers at the server boundary; the CallLog itself is
// already enqueued by the time Result is returned).
type Result struct {
	Status int
	Body   []byte
	Err    error
}

// Handle runs the non-streaming path: route, translate, send, derive
// perf/cache/cost, enqueue the CallLog, translate the response back.
func (p *Pipeline) Handle(ctx context.Context, rc RequestContext, clientDialect dialect.Dialect, body []byte) Result {
	requestID := newRequestID()
	tracker := perf.NewTracker()
	log := p.Log.With("request_id", requestID)

	creq, err := decodeClientRequest(clientDialect, body)
	if err != nil {
		return Result{Status: http.StatusBadRequest, Body: errorBody(clientDialect, err.Error()), Err: err}
	}

	decision, err := p.Router.Resolve(creq.model, clientDialect)
	if err != nil {
		return Result{Status: http.StatusBadRequest, Body: errorBody(clientDialect, err.Error()), Err: err}
	}
	log = log.With("provider", decision.ProviderName, "model", creq.model, "translate_mode", decision.TranslateMode)

	upstreamBody, err := translatedBody(decision, creq)
	if err != nil {
		return Result{Status: http.StatusBadRequest, Body: errorBody(clientDialect, err.Error()), Err: err}
	}

	upstreamURL := decision.Provider.DefaultEndpointURL(dialect.Buffered)
	status, respBody, respHeaders, sendErr := decision.Provider.SendBuffered(ctx, upstreamBody)
	if sendErr != nil {
		perfMetrics := tracker.NonStreaming()
		cacheAnalysis := p.Cache.Analyze(creq.turns)
		log.Errorw("upstream call failed", "error", sendErr)
		p.enqueueFailure(requestID, rc, decision, creq, endpointForDialect(clientDialect),
			upstreamURL, status, respBody, respHeaders, perfMetrics, cacheAnalysis, sendErr)
		recordMetrics(decision.ProviderName, creq.model, false, perfMetrics.TotalLatencyMillis, nil, 0)
		httpStatus, envelope := errorResponseFor(clientDialect, sendErr)
		return Result{Status: httpStatus, Body: envelope, Err: sendErr}
	}

	perfMetrics := tracker.NonStreaming()
	cacheAnalysis := p.Cache.Analyze(creq.turns)
	usage, haveUsage := decision.Provider.ParseUsage(respBody)
	costUSD := 0.0
	if haveUsage {
		costUSD = decision.Provider.EstimateCost(usage, creq.model)
	}
	actualCached, actualRate := actualCacheInfo(usage)

	clientBody, err := translateResponseBack(decision.TranslateMode, respBody)
	if err != nil {
		log.Errorw("response translation failed", "error", err)
		clientBody = respBody
	}

	callLog := telemetry.CallLog{
		RequestID: requestID,
		Timestamp: time.Now(),
		Provider:  decision.ProviderName,
		Model:     creq.model,
		Endpoint:  string(endpointForDialect(clientDialect)),
		Success:   true,
		Raw: telemetry.RawCall{
			RequestMethod:             rc.Method,
			RequestURL:                rc.URL,
			RequestHeaders:            rc.Headers,
			RequestBody:               body,
			ClientAddr:                rc.ClientAddr,
			UserAgent:                 rc.UserAgent,
			ResponseStatus:            status,
			ResponseHeaders:           respHeaders,
			ResponseBody:              respBody,
			ResponseBytes:             len(respBody),
			UpstreamURL:               upstreamURL,
			UpstreamHeaders:           upstreamRequestHeaders(),
			UpstreamStatus:            status,
			ExtractedPromptTokens:     usage.PromptTokens,
			ExtractedCompletionTokens: usage.CompletionTokens,
			ExtractedTotalTokens:      usage.TotalTokens,
		},
		Estimated: telemetry.EstimatedAnalysis{
			TTFTMillis:            perfMetrics.TTFTMillis,
			TPOTMillis:            perfMetrics.TPOTMillis,
			TotalLatencyMillis:    perfMetrics.TotalLatencyMillis,
			TokensPerSecond:       perfMetrics.TokensPerSecond,
			NetworkLatencyMillis:  perfMetrics.NetworkLatencyMillis,
			EstimatedCachedTokens: cacheAnalysis.EstimatedCachedTokens,
			EstimatedFreshTokens:  cacheAnalysis.EstimatedFreshTokens,
			EstimatedCacheHitRate: cacheAnalysis.EstimatedCacheHitRate,
			CacheBreakdown: telemetry.CacheBreakdown{
				SystemBucketTokens:   cacheAnalysis.SystemBucketTokens,
				TemplateBucketTokens: cacheAnalysis.TemplateBucketTokens,
				HistoryBucketTokens:  cacheAnalysis.HistoryBucketTokens,
			},
			EstimatedCostUSD:  costUSD,
			AnalysisTimestamp: time.Now(),
		},
		ProxyUsed:              strPtrOrNil(rc.ProxyUsed),
		UserID:                 strPtrOrNil(rc.UserID),
		SessionID:              strPtrOrNil(rc.SessionID),
		ActualPromptTokens:     usage.PromptTokens,
		ActualCompletionTokens: usage.CompletionTokens,
		ActualTotalTokens:      usage.TotalTokens,
		ActualCachedTokens:     actualCached,
		ActualCacheHitRate:     actualRate,
	}

	if p.Telemetry != nil {
		p.Telemetry.Enqueue(callLog)
	}
	recordMetrics(decision.ProviderName, creq.model, true, perfMetrics.TotalLatencyMillis, nil, costUSD)

	return Result{Status: http.StatusOK, Body: clientBody}
}

// HandleStream runs the streaming path. w is the
// client-facing response sink; the pipeline writes SSE frames directly
// to it as they arrive from upstream so there is no buffering beyond
// one chunk.
func (p *Pipeline) HandleStream(ctx context.Context, rc RequestContext, clientDialect dialect.Dialect, body []byte, w http.ResponseWriter) {
	requestID := newRequestID()
	tracker := perf.NewTracker()
	log := p.Log.With("request_id", requestID)

	creq, err := decodeClientRequest(clientDialect, body)
	if err != nil {
		stream.WriteHTTPError(w, http.StatusBadRequest, clientDialect, err.Error())
		return
	}

	decision, err := p.Router.Resolve(creq.model, clientDialect)
	if err != nil {
		stream.WriteHTTPError(w, http.StatusBadRequest, clientDialect, err.Error())
		return
	}
	log = log.With("provider", decision.ProviderName, "model", creq.model, "translate_mode", decision.TranslateMode)

	upstreamBody, err := translatedBody(decision, creq)
	if err != nil {
		stream.WriteHTTPError(w, http.StatusBadRequest, clientDialect, err.Error())
		return
	}

	upstreamURL := decision.Provider.DefaultEndpointURL(dialect.Streaming)
	frames, sendErr := decision.Provider.SendStreaming(ctx, upstreamBody)
	if sendErr != nil {
		perfMetrics := tracker.NonStreaming()
		cacheAnalysis := p.Cache.Analyze(creq.turns)
		log.Errorw("upstream stream call failed", "error", sendErr)
		p.enqueueFailure(requestID, rc, decision, creq, endpointForDialect(clientDialect),
			upstreamURL, 0, nil, nil, perfMetrics, cacheAnalysis, sendErr)
		httpStatus, _ := errorResponseFor(clientDialect, sendErr)
		stream.WriteHTTPError(w, httpStatus, clientDialect, sendErr.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Errorw("response writer does not support flushing")
		return
	}
	stream.SetSSEHeaders(w)

	var (
		aggregated   []byte
		observedN    int
		usage        dialect.Usage
		haveUsage    bool
		streamErr    error
		chunksSentOK = true
	)

	for {
		select {
		case <-ctx.Done():
			streamErr = &provider.UpstreamCanceled{}
			chunksSentOK = false
			goto done
		case frame, more := <-frames:
			if !more {
				goto done
			}
			if frame.Err != nil {
				streamErr = frame.Err
				chunksSentOK = false
				goto done
			}
			tracker.RecordToken()
			observedN++

			if text, ok := frame.Text(); ok {
				aggregated = append(aggregated, text...)
			}
			if u, ok := frame.Usage(); ok {
				usage = u
				haveUsage = true
			}

			if decision.TranslateMode == dialect.Passthrough {
				if err := stream.WriteRawFrame(w, flusher, frame); err != nil {
					streamErr = err
					chunksSentOK = false
					goto done
				}
				continue
			}

			translated, emit := frame.Translate(decision.TranslateMode)
			if !emit {
				continue
			}
			if err := stream.WriteRawFrame(w, flusher, translated); err != nil {
				streamErr = err
				chunksSentOK = false
				goto done
			}
		}
	}

done:
	if chunksSentOK && streamErr == nil {
		stream.WriteDone(w, flusher)
	} else if streamErr != nil {
		if _, canceled := streamErr.(*provider.UpstreamCanceled); !canceled {
			stream.WriteMidStreamError(w, flusher, clientDialect, streamErr.Error())
		}
	}

	perfMetrics := tracker.Streaming(observedN)
	cacheAnalysis := p.Cache.Analyze(creq.turns)

	costUSD := 0.0
	if haveUsage {
		costUSD = decision.Provider.EstimateCost(usage, creq.model)
	} else {
		usage = dialect.Usage{CompletionTokens: observedN, TotalTokens: observedN}
	}
	actualCached, actualRate := actualCacheInfo(usage)

	success := streamErr == nil
	var errMsg *string
	if !success {
		if _, canceled := streamErr.(*provider.UpstreamCanceled); canceled {
			success = true
		} else {
			m := streamErr.Error()
			errMsg = &m
		}
	}

	synthesized, _ := json.Marshal(synthesizedResponse(decision, creq.model, string(aggregated), usage))

	callLog := telemetry.CallLog{
		RequestID:    requestID,
		Timestamp:    time.Now(),
		Provider:     decision.ProviderName,
		Model:        creq.model,
		Endpoint:     string(endpointForDialect(clientDialect)),
		Success:      success,
		ErrorMessage: errMsg,
		Raw: telemetry.RawCall{
			RequestMethod:             rc.Method,
			RequestURL:                rc.URL,
			RequestHeaders:            rc.Headers,
			RequestBody:               body,
			ClientAddr:                rc.ClientAddr,
			UserAgent:                 rc.UserAgent,
			ResponseStatus:            http.StatusOK,
			ResponseBody:              synthesized,
			ResponseBytes:             len(synthesized),
			UpstreamURL:               upstreamURL,
			UpstreamStatus:            http.StatusOK,
			ExtractedPromptTokens:     usage.PromptTokens,
			ExtractedCompletionTokens: usage.CompletionTokens,
			ExtractedTotalTokens:      usage.TotalTokens,
		},
		Estimated: telemetry.EstimatedAnalysis{
			TTFTMillis:            perfMetrics.TTFTMillis,
			TPOTMillis:            perfMetrics.TPOTMillis,
			TotalLatencyMillis:    perfMetrics.TotalLatencyMillis,
			TokensPerSecond:       perfMetrics.TokensPerSecond,
			NetworkLatencyMillis:  perfMetrics.NetworkLatencyMillis,
			EstimatedCachedTokens: cacheAnalysis.EstimatedCachedTokens,
			EstimatedFreshTokens:  cacheAnalysis.EstimatedFreshTokens,
			EstimatedCacheHitRate: cacheAnalysis.EstimatedCacheHitRate,
			CacheBreakdown: telemetry.CacheBreakdown{
				SystemBucketTokens:   cacheAnalysis.SystemBucketTokens,
				TemplateBucketTokens: cacheAnalysis.TemplateBucketTokens,
				HistoryBucketTokens:  cacheAnalysis.HistoryBucketTokens,
			},
			EstimatedCostUSD:  costUSD,
			AnalysisTimestamp: time.Now(),
		},
		ProxyUsed:              strPtrOrNil(rc.ProxyUsed),
		UserID:                 strPtrOrNil(rc.UserID),
		SessionID:              strPtrOrNil(rc.SessionID),
		ActualPromptTokens:     usage.PromptTokens,
		ActualCompletionTokens: usage.CompletionTokens,
		ActualTotalTokens:      usage.TotalTokens,
		ActualCachedTokens:     actualCached,
		ActualCacheHitRate:     actualRate,
	}

	if p.Telemetry != nil {
		p.Telemetry.Enqueue(callLog)
	}

	recordMetrics(decision.ProviderName, creq.model, success, perfMetrics.TotalLatencyMillis, perfMetrics.TTFTMillis, costUSD)
}

// enqueueFailure builds and enqueues the CallLog for a call that never
// got a successful upstream response. Estimated analysis is still
// attached — zero values where inputs are missing.
func (p *Pipeline) enqueueFailure(
	requestID string,
	rc RequestContext,
	decision router.Decision,
	creq clientRequest,
	endpoint Endpoint,
	upstreamURL string,
	status int,
	respBody []byte,
	respHeaders map[string]string,
	perfMetrics perf.Metrics,
	cacheAnalysis cache.Analysis,
	callErr error,
) {
	// A client disconnect is not an upstream failure: the log keeps
	// whatever partial metrics were observed and stays success=true.
	success := false
	var errMsg *string
	if _, canceled := callErr.(*provider.UpstreamCanceled); canceled {
		success = true
	} else {
		msg := callErr.Error()
		errMsg = &msg
	}
	callLog := telemetry.CallLog{
		RequestID:    requestID,
		Timestamp:    time.Now(),
		Provider:     decision.ProviderName,
		Model:        creq.model,
		Endpoint:     string(endpoint),
		Success:      success,
		ErrorMessage: errMsg,
		Raw: telemetry.RawCall{
			RequestMethod:   rc.Method,
			RequestURL:      rc.URL,
			RequestHeaders:  rc.Headers,
			ClientAddr:      rc.ClientAddr,
			UserAgent:       rc.UserAgent,
			ResponseStatus:  status,
			ResponseHeaders: respHeaders,
			ResponseBody:    respBody,
			ResponseBytes:   len(respBody),
			UpstreamURL:     upstreamURL,
			UpstreamStatus:  status,
		},
		Estimated: telemetry.EstimatedAnalysis{
			TTFTMillis:            perfMetrics.TTFTMillis,
			TPOTMillis:            perfMetrics.TPOTMillis,
			TotalLatencyMillis:    perfMetrics.TotalLatencyMillis,
			TokensPerSecond:       perfMetrics.TokensPerSecond,
			NetworkLatencyMillis:  perfMetrics.NetworkLatencyMillis,
			EstimatedCachedTokens: cacheAnalysis.EstimatedCachedTokens,
			EstimatedFreshTokens:  cacheAnalysis.EstimatedFreshTokens,
			EstimatedCacheHitRate: cacheAnalysis.EstimatedCacheHitRate,
			CacheBreakdown: telemetry.CacheBreakdown{
				SystemBucketTokens:   cacheAnalysis.SystemBucketTokens,
				TemplateBucketTokens: cacheAnalysis.TemplateBucketTokens,
				HistoryBucketTokens:  cacheAnalysis.HistoryBucketTokens,
			},
			EstimatedCostUSD:  0,
			AnalysisTimestamp: time.Now(),
		},
		ProxyUsed: strPtrOrNil(rc.ProxyUsed),
		UserID:    strPtrOrNil(rc.UserID),
		SessionID: strPtrOrNil(rc.SessionID),
	}
	if p.Telemetry != nil {
		p.Telemetry.Enqueue(callLog)
	}
}

// actualCacheInfo derives the upstream-reported cache columns from
// normalized usage: nil rate when the upstream said nothing about
// caching, so estimated-vs-actual comparisons only consider rows with
// real ground truth.
func actualCacheInfo(usage dialect.Usage) (cached int, rate *float64) {
	cached, ok := usage.CachedTokens()
	if !ok {
		return 0, nil
	}
	if usage.PromptTokens > 0 {
		r := float64(cached) / float64(usage.PromptTokens)
		rate = &r
	}
	return cached, rate
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// upstreamRequestHeaders records the headers the pipeline knows it set
// on the upstream call. Credential headers are added inside the
// concrete adapters and deliberately never land in a RawCall.
func upstreamRequestHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

// translateResponseBack rewrites the upstream-native response body into
// the client's dialect; passthrough returns the body unchanged. The
// pre-translation body is what lands in RawCall.
func translateResponseBack(mode dialect.Mode, upstreamBody []byte) ([]byte, error) {
	switch mode {
	case dialect.Passthrough:
		return upstreamBody, nil
	case dialect.AnthropicToOpenAI:
		// The request went Anthropic->OpenAI, so the upstream body is
		// OpenAI-shaped and comes back to the client as Anthropic.
		var resp dialect.OpenAIResponse
		if err := json.Unmarshal(upstreamBody, &resp); err != nil {
			return nil, err
		}
		return json.Marshal(dialect.ResponseOpenAIToAnthropic(resp))
	case dialect.OpenAIToAnthropic:
		var resp dialect.AnthropicResponse
		if err := json.Unmarshal(upstreamBody, &resp); err != nil {
			return nil, err
		}
		return json.Marshal(dialect.ResponseAnthropicToOpenAI(resp))
	default:
		return upstreamBody, nil
	}
}

// synthesizedResponse builds a non-stream-shaped object from the
// aggregated streaming text, for logging only — it never reaches the
// client.
func synthesizedResponse(decision router.Decision, model, text string, usage dialect.Usage) any {
	if decision.Provider.DialectTag() == dialect.AnthropicCompatible {
		return dialect.AnthropicResponse{
			Type:  "message",
			Role:  "assistant",
			Model: model,
			Content: []dialect.AnthropicContentBlock{
				{Type: "text", Text: text},
			},
			StopReason: "end_turn",
			Usage: dialect.AnthropicUsage{
				InputTokens:  usage.PromptTokens,
				OutputTokens: usage.CompletionTokens,
			},
		}
	}
	return dialect.OpenAIResponse{
		Object: "chat.completion",
		Model:  model,
		Choices: []dialect.OpenAIChoice{
			{Index: 0, Message: dialect.OpenAIMessage{Role: "assistant", Content: dialect.PlainText(text)}, FinishReason: "stop"},
		},
		Usage: usage,
	}
}

// errorBody builds a dialect-appropriate error envelope for an error
// that never reached a provider (BadClientRequest, NoProviderForModel).
func errorBody(clientDialect dialect.Dialect, message string) []byte {
	b, _ := json.Marshal(dialect.ErrorEnvelopeFor(clientDialect, message))
	return b
}

// errorResponseFor maps a provider error kind to the HTTP status
// mirrored to the client and its dialect-appropriate body.
func errorResponseFor(clientDialect dialect.Dialect, err error) (int, []byte) {
	switch e := err.(type) {
	case *provider.UpstreamHTTPError:
		return e.Status, errorBody(clientDialect, string(e.Body))
	case *provider.UpstreamNetworkError:
		return http.StatusBadGateway, errorBody(clientDialect, e.Error())
	case *provider.UpstreamProtocolError:
		return http.StatusBadGateway, errorBody(clientDialect, e.Error())
	case *provider.UpstreamCanceled:
		return 0, nil
	default:
		return http.StatusBadGateway, errorBody(clientDialect, err.Error())
	}
}
