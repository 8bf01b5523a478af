// Package orchestrator drives the turn loop: bid collection, winner
// selection, response acquisition, context update, and termination. One
// conversation advances one turn at a time; different conversations
// advance concurrently.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/parley/bidding"
	"github.com/BaSui01/parley/channel"
	"github.com/BaSui01/parley/contextmgr"
	"github.com/BaSui01/parley/internal/metrics"
	"github.com/BaSui01/parley/persistence"
	"github.com/BaSui01/parley/reliability"
	"github.com/BaSui01/parley/responder"
	"github.com/BaSui01/parley/types"
)

// contextRebuildLimit bounds how many channel entries are replayed when a
// conversation's rolling context is rebuilt after a restart.
const contextRebuildLimit = 256

// Config configures the orchestrator and its embedded components.
type Config struct {
	Deadlines   reliability.Deadlines         `yaml:"deadlines" json:"deadlines"`
	Breaker     reliability.BreakerConfig     `yaml:"breaker" json:"breaker"`
	Retry       reliability.RetryPolicy       `yaml:"retry" json:"retry"`
	Budget      reliability.BudgetConfig      `yaml:"budget" json:"budget"`
	Termination reliability.TerminationConfig `yaml:"termination" json:"termination"`
	Bidding     bidding.Config                `yaml:"bidding" json:"bidding"`
	Context     contextmgr.Config             `yaml:"context" json:"context"`

	// DefaultMaxTurns applies when a conversation is created without an
	// explicit cap.
	DefaultMaxTurns int `yaml:"default_max_turns" json:"default_max_turns"`

	// EventBuffer sizes each event subscriber's channel.
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Deadlines:       reliability.DefaultDeadlines(),
		Breaker:         reliability.DefaultBreakerConfig(),
		Retry:           reliability.DefaultRetryPolicy(),
		Termination:     reliability.DefaultTerminationConfig(),
		Bidding:         bidding.DefaultConfig(),
		Context:         contextmgr.DefaultConfig(),
		DefaultMaxTurns: 50,
		EventBuffer:     64,
	}
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Store    persistence.Store
	Channel  channel.Channel
	Registry *responder.Registry

	// Summarizer is optional; nil disables rolling summarization.
	Summarizer contextmgr.Summarizer

	// Metrics is optional; nil gets a private registry.
	Metrics *metrics.Collector

	Logger *zap.Logger
}

// session is the per-conversation runtime state the store does not hold.
type session struct {
	// mu serializes turns; TryLock failure means a turn is in flight.
	mu       sync.Mutex
	cc       types.CompactContext
	ledger   *reliability.Ledger
	detector *reliability.Detector
}

// Orchestrator is the turn scheduler.
type Orchestrator struct {
	cfg       Config
	store     persistence.Store
	channel   channel.Channel
	registry  *responder.Registry
	evaluator *bidding.Evaluator
	contexts  *contextmgr.Manager
	breakers  *reliability.BreakerTable
	retryer   *reliability.Retryer
	metrics   *metrics.Collector
	bus       *Bus
	tracer    trace.Tracer
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New wires an orchestrator from its dependencies.
func New(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewCollector(nil)
	}
	cfg.Deadlines = cfg.Deadlines.Normalize()
	if cfg.DefaultMaxTurns <= 0 {
		cfg.DefaultMaxTurns = 50
	}

	// breaker transitions feed the metrics on top of any user hook
	userHook := cfg.Breaker.OnStateChange
	cfg.Breaker.OnStateChange = func(responderID string, from, to reliability.BreakerState) {
		m.RecordBreakerTransition(responderID, to.String())
		if userHook != nil {
			userHook(responderID, from, to)
		}
	}

	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		channel:   deps.Channel,
		registry:  deps.Registry,
		evaluator: bidding.NewEvaluator(cfg.Bidding, logger),
		contexts:  contextmgr.NewManager(cfg.Context, deps.Summarizer, contextmgr.NewEstimator(), logger),
		breakers:  reliability.NewBreakerTable(cfg.Breaker, logger),
		retryer:   reliability.NewRetryer(cfg.Retry, logger),
		metrics:   m,
		bus:       NewBus(cfg.EventBuffer, logger),
		tracer:    otel.Tracer("github.com/BaSui01/parley/orchestrator"),
		logger:    logger,
		sessions:  make(map[string]*session),
	}
}

// Events returns the lifecycle event bus.
func (o *Orchestrator) Events() *Bus { return o.bus }

// BreakerSnapshots reports the state of every responder breaker.
func (o *Orchestrator) BreakerSnapshots() []reliability.BreakerSnapshot {
	return o.breakers.Snapshots()
}

// ParticipantSpec enrolls one responder at creation time.
type ParticipantSpec struct {
	ResponderID string                `json:"responder_id"`
	Role        types.ParticipantRole `json:"role"`
	Persona     string                `json:"persona,omitempty"`
}

// CreateRequest describes a new conversation.
type CreateRequest struct {
	Topic          string            `json:"topic"`
	Goal           string            `json:"goal,omitempty"`
	MaxTurns       int               `json:"max_turns,omitempty"`
	Participants   []ParticipantSpec `json:"participants"`
	Budget         types.TokenBudget `json:"budget,omitempty"`
	BiddingEnabled bool              `json:"bidding_enabled"`
}

// CreateConversation validates the request, persists a pending
// conversation, and returns it.
func (o *Orchestrator) CreateConversation(ctx context.Context, req CreateRequest) (*types.Conversation, error) {
	if req.Topic == "" {
		return nil, types.NewError(types.ErrMalformedMessage, "conversation topic is required")
	}

	now := time.Now()
	participants := make([]types.Participant, 0, len(req.Participants))
	activeCount := 0
	for _, spec := range req.Participants {
		if _, err := o.registry.Get(spec.ResponderID); err != nil {
			return nil, err
		}
		role := spec.Role
		if role == "" {
			role = types.RoleActive
		}
		if role == types.RoleActive {
			activeCount++
		}
		participants = append(participants, types.Participant{
			ResponderID: spec.ResponderID,
			Role:        role,
			Persona:     spec.Persona,
			JoinedAt:    now,
			Stats:       types.ParticipantStats{LastSpokeTurn: -1},
		})
	}
	if activeCount == 0 {
		return nil, types.NewError(types.ErrMalformedMessage, "conversation needs at least one active participant")
	}

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = o.cfg.DefaultMaxTurns
	}

	conv := &types.Conversation{
		ID:             uuid.NewString(),
		Topic:          req.Topic,
		Goal:           req.Goal,
		MaxTurns:       maxTurns,
		Status:         types.StatusPending,
		Participants:   participants,
		Budget:         req.Budget,
		BiddingEnabled: req.BiddingEnabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.Save(ctx, conv); err != nil {
		return nil, err
	}

	o.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("topic", conv.Topic),
		zap.Int("participants", len(participants)),
		zap.Bool("bidding_enabled", conv.BiddingEnabled))
	return conv.Clone(), nil
}

// Get returns the persisted conversation.
func (o *Orchestrator) Get(ctx context.Context, conversationID string) (*types.Conversation, error) {
	return o.store.Load(ctx, conversationID)
}

// Pause suspends an active conversation between turns.
func (o *Orchestrator) Pause(ctx context.Context, conversationID string) error {
	conv, err := o.store.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status != types.StatusActive && conv.Status != types.StatusPending {
		return invalidTransition(conv, "pause")
	}
	conv.Status = types.StatusPaused
	conv.UpdatedAt = time.Now()
	if err := o.store.Save(ctx, conv); err != nil {
		return err
	}
	o.logger.Info("conversation paused", zap.String("conversation_id", conversationID))
	return nil
}

// Resume reactivates a paused conversation.
func (o *Orchestrator) Resume(ctx context.Context, conversationID string) error {
	conv, err := o.store.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status != types.StatusPaused {
		return invalidTransition(conv, "resume")
	}
	conv.Status = types.StatusActive
	conv.UpdatedAt = time.Now()
	if err := o.store.Save(ctx, conv); err != nil {
		return err
	}
	o.logger.Info("conversation resumed", zap.String("conversation_id", conversationID))
	return nil
}

// Cancel terminates a conversation with the cancelled reason.
func (o *Orchestrator) Cancel(ctx context.Context, conversationID string) error {
	conv, err := o.store.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status.Terminal() {
		return invalidTransition(conv, "cancel")
	}

	conv.Status = types.StatusCancelled
	conv.EndReason = types.EndCancelled
	conv.UpdatedAt = time.Now()

	o.append(ctx, conv, conv.CurrentTurn, "orchestrator", types.KindEnd,
		types.EndPayload{Reason: types.EndCancelled})
	if err := o.store.Save(ctx, conv); err != nil {
		return err
	}

	o.dropSession(conversationID)
	o.metrics.ConversationEnded(string(types.EndCancelled))
	o.bus.Publish(Event{
		Kind:           EventConversationEnded,
		ConversationID: conversationID,
		Turn:           conv.CurrentTurn,
		EndReason:      types.EndCancelled,
	})
	o.logger.Info("conversation cancelled", zap.String("conversation_id", conversationID))
	return nil
}

// TurnResult reports one completed turn.
type TurnResult struct {
	Turn      int              `json:"turn"`
	SpeakerID string           `json:"speaker_id,omitempty"`
	Response  types.Response   `json:"response"`
	BidResult *types.BidResult `json:"bid_result,omitempty"`
	Ended     bool             `json:"ended"`
	EndReason types.EndReason  `json:"end_reason,omitempty"`
}

// ProcessNextTurn advances the conversation by exactly one turn. A second
// call while a turn is in flight fails fast with TURN_IN_FLIGHT.
func (o *Orchestrator) ProcessNextTurn(ctx context.Context, conversationID string) (*TurnResult, error) {
	conv, err := o.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	switch conv.Status {
	case types.StatusPending:
		conv.Status = types.StatusActive
	case types.StatusActive:
	default:
		return nil, invalidTransition(conv, "process turn")
	}

	sess, err := o.session(ctx, conv)
	if err != nil {
		return nil, err
	}
	if !sess.mu.TryLock() {
		return nil, types.NewError(types.ErrTurnInFlight,
			"turn already in flight for conversation "+conversationID)
	}
	defer sess.mu.Unlock()

	started := time.Now()
	turn := conv.CurrentTurn + 1

	ctx, span := o.tracer.Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("conversation.turn", turn)))
	defer span.End()

	// budget exhaustion and turn cap are termination reasons, not errors
	if sess.ledger.Exhausted() {
		return o.terminate(ctx, conv, types.EndBudgetExceeded, started)
	}
	if conv.CurrentTurn >= conv.MaxTurns {
		return o.terminate(ctx, conv, types.EndMaxTurns, started)
	}

	turnCtx, cancelTurn := reliability.Within(ctx, o.cfg.Deadlines.Turn)
	defer cancelTurn()

	speaker, bidResult := o.selectSpeaker(turnCtx, conv, sess, turn)
	if speaker == "" {
		o.metrics.ObserveTurn("failed", time.Since(started))
		return nil, types.NewNoValidBidsError()
	}
	span.SetAttributes(attribute.String("turn.speaker", speaker))

	// the response request goes to the winner's inbox only
	routed := o.routedContext(conv, sess, speaker, turn)
	o.append(turnCtx, conv, turn, "orchestrator", types.KindResponseRequest,
		types.ResponseRequestPayload{Deadline: deadlineOf(turnCtx, o.cfg.Deadlines.Response), Context: routed},
		channel.ResponderKey(speaker))

	resp, err := o.requestResponse(turnCtx, speaker, routed)
	if err != nil {
		// retries are exhausted at this point: record the failure and end
		// the conversation with an explicit reason rather than leaving it
		// active with a silently broken turn loop
		o.append(turnCtx, conv, turn, speaker, types.KindError,
			types.ErrorPayload{Code: types.GetErrorCode(err), Message: err.Error()})
		conv.Status = types.StatusCompleted
		conv.EndReason = types.EndError
		conv.UpdatedAt = time.Now()
		o.append(turnCtx, conv, turn, "orchestrator", types.KindEnd,
			types.EndPayload{Reason: types.EndError})
		if saveErr := o.store.Save(ctx, conv); saveErr != nil {
			o.logger.Error("save after failed turn", zap.Error(saveErr))
		}
		o.dropSession(conv.ID)
		o.metrics.ObserveTurn("failed", time.Since(started))
		o.metrics.ConversationEnded(string(types.EndError))
		o.bus.Publish(Event{
			Kind:           EventTurnFailed,
			ConversationID: conv.ID,
			Turn:           turn,
			SpeakerID:      speaker,
			Err:            err.Error(),
		})
		o.bus.Publish(Event{
			Kind:           EventConversationEnded,
			ConversationID: conv.ID,
			Turn:           turn,
			EndReason:      types.EndError,
		})
		o.logger.Warn("turn failed, conversation ended",
			zap.String("conversation_id", conv.ID),
			zap.Int("turn", turn),
			zap.String("speaker", speaker),
			zap.Error(err))
		return nil, err
	}

	o.append(turnCtx, conv, turn, speaker, types.KindResponse, types.ResponsePayload{
		Content:      resp.Content,
		Usage:        resp.Usage,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
	})

	sess.ledger.Record(speaker, resp.Usage.Total())
	o.metrics.AddTokens(speaker, resp.Usage.Total())
	conv.Budget = sess.ledger.Snapshot()

	o.recordStats(conv, speaker, turn, resp.Usage.Total(), bidResult)

	summarizeCtx, cancelSummarize := reliability.Within(turnCtx, o.cfg.Deadlines.Summarize)
	sess.cc = o.contexts.Update(summarizeCtx, sess.cc, turn, speaker, resp.Content)
	cancelSummarize()
	o.append(turnCtx, conv, turn, "orchestrator", types.KindContextUpdate, sess.cc)

	conv.CurrentTurn = turn
	conv.CurrentSpeaker = speaker
	conv.UpdatedAt = time.Now()

	sess.detector.Observe(resp.Content)
	reason, ended := sess.detector.Check(conv.Goal, resp.Content)
	if !ended && turn >= conv.MaxTurns {
		reason, ended = types.EndMaxTurns, true
	}
	if ended {
		conv.Status = types.StatusCompleted
		conv.EndReason = reason
		o.append(turnCtx, conv, turn, "orchestrator", types.KindEnd, types.EndPayload{Reason: reason})
	}

	if err := o.store.Save(ctx, conv); err != nil {
		return nil, err
	}

	if bidResult != nil {
		o.bus.Publish(Event{
			Kind:           EventBidsEvaluated,
			ConversationID: conv.ID,
			Turn:           turn,
			SpeakerID:      speaker,
			BidResult:      bidResult,
		})
	}
	o.bus.Publish(Event{
		Kind:           EventTurnCompleted,
		ConversationID: conv.ID,
		Turn:           turn,
		SpeakerID:      speaker,
	})
	if ended {
		o.dropSession(conv.ID)
		o.metrics.ConversationEnded(string(reason))
		o.bus.Publish(Event{
			Kind:           EventConversationEnded,
			ConversationID: conv.ID,
			Turn:           turn,
			EndReason:      reason,
		})
	}

	o.metrics.ObserveTurn("completed", time.Since(started))
	o.logger.Info("turn completed",
		zap.String("conversation_id", conv.ID),
		zap.Int("turn", turn),
		zap.String("speaker", speaker),
		zap.Int("tokens", resp.Usage.Total()),
		zap.Bool("ended", ended))

	return &TurnResult{
		Turn:      turn,
		SpeakerID: speaker,
		Response:  resp,
		BidResult: bidResult,
		Ended:     ended,
		EndReason: reason,
	}, nil
}

// Run advances turns until the conversation terminates, pauses, or ctx is
// cancelled. A failed turn has already ended the conversation with the
// error reason by the time it surfaces here, so Run returns the failure
// instead of retrying it.
func (o *Orchestrator) Run(ctx context.Context, conversationID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := o.ProcessNextTurn(ctx, conversationID)
		if err != nil {
			if types.IsCode(err, types.ErrInvalidTransition) {
				// paused or already terminal
				return nil
			}
			return err
		}
		if result.Ended {
			return nil
		}
	}
}

// Health pings the store and the channel.
func (o *Orchestrator) Health(ctx context.Context) error {
	if err := o.store.Ping(ctx); err != nil {
		return types.NewError(types.ErrUnavailable, "store unhealthy").WithCause(err)
	}
	if err := o.channel.Ping(ctx); err != nil {
		return types.NewError(types.ErrUnavailable, "channel unhealthy").WithCause(err)
	}
	return nil
}

// Close shuts down the event bus.
func (o *Orchestrator) Close() {
	o.bus.Close()
}

// selectSpeaker returns the next speaker and, when bidding ran, the
// evaluation result. An empty speaker means no active participant exists.
func (o *Orchestrator) selectSpeaker(ctx context.Context, conv *types.Conversation, sess *session, turn int) (string, *types.BidResult) {
	if !conv.BiddingEnabled {
		return nextRoundRobin(conv), nil
	}

	bids, implicit := o.collectBids(ctx, conv, sess, turn)

	stats := make(map[string]types.ParticipantStats, len(conv.Participants))
	for _, p := range conv.ActiveParticipants() {
		stats[p.ResponderID] = p.Stats
	}

	result, err := o.evaluator.Evaluate(bidding.Input{
		Bids:           bids,
		Stats:          stats,
		CurrentTurn:    turn,
		CurrentSpeaker: conv.CurrentSpeaker,
	})
	if err != nil {
		// everyone passed or was excluded: rotate instead of stalling
		o.logger.Info("no valid bids, falling back to round-robin",
			zap.String("conversation_id", conv.ID),
			zap.Int("turn", turn),
			zap.Int("implicit_passes", len(implicit)))
		return nextRoundRobin(conv), nil
	}
	return result.WinnerID, &result
}

// collectBids fans out bid requests to all active participants in
// parallel. Any failure (timeout, open breaker, malformed bid, budget
// stop) degrades to an implicit pass; bid collection never fails a turn.
func (o *Orchestrator) collectBids(ctx context.Context, conv *types.Conversation, sess *session, turn int) ([]types.Bid, map[string]bool) {
	active := conv.ActiveParticipants()
	bids := make([]types.Bid, len(active))
	implicit := make(map[string]bool)
	var implicitMu sync.Mutex

	inboxes := make([]string, len(active))
	for i, p := range active {
		inboxes[i] = channel.ResponderKey(p.ResponderID)
	}
	o.append(ctx, conv, turn, "orchestrator", types.KindBidRequest,
		types.BidRequestPayload{Deadline: deadlineOf(ctx, o.cfg.Deadlines.Bid), Context: sess.cc},
		inboxes...)

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range active {
		g.Go(func() error {
			bid, ok := o.collectOneBid(gctx, conv, sess, p, turn)
			bids[i] = bid
			if !ok {
				implicitMu.Lock()
				implicit[p.ResponderID] = true
				implicitMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, b := range bids {
		o.metrics.RecordBid(string(b.Decision))
		o.append(ctx, conv, turn, b.ResponderID, types.KindBid, b)
	}
	return bids, implicit
}

// collectOneBid returns the responder's bid, or an implicit pass (ok ==
// false) when the responder cannot or must not take the turn.
func (o *Orchestrator) collectOneBid(ctx context.Context, conv *types.Conversation, sess *session, p types.Participant, turn int) (types.Bid, bool) {
	routed := o.routedContext(conv, sess, p.ResponderID, turn)

	if !sess.ledger.CanProceed(p.ResponderID, o.contexts.EstimateTokens(routed)) {
		o.logger.Debug("responder over budget, substituting pass",
			zap.String("responder_id", p.ResponderID))
		return types.ImplicitPass(conv.ID, turn, p.ResponderID), false
	}

	r, err := o.registry.Get(p.ResponderID)
	if err != nil {
		return types.ImplicitPass(conv.ID, turn, p.ResponderID), false
	}

	bidCtx, cancel := reliability.Within(ctx, o.cfg.Deadlines.Bid)
	defer cancel()

	var bid types.Bid
	err = o.breakers.For(p.ResponderID).Call(bidCtx, func(c context.Context) error {
		var callErr error
		bid, callErr = r.Bid(c, routed)
		if callErr != nil {
			if c.Err() != nil {
				return types.NewTimeoutError("bid", o.cfg.Deadlines.Bid).WithResponder(p.ResponderID)
			}
			return types.NewResponderError(p.ResponderID, callErr)
		}
		bid.ConversationID = conv.ID
		bid.Turn = turn
		bid.ResponderID = p.ResponderID
		return bid.Validate()
	})
	if err != nil {
		o.logger.Debug("bid degraded to implicit pass",
			zap.String("responder_id", p.ResponderID),
			zap.Int("turn", turn),
			zap.Error(err))
		return types.ImplicitPass(conv.ID, turn, p.ResponderID), false
	}
	if bid.SubmittedAt.IsZero() {
		bid.SubmittedAt = time.Now()
	}
	return bid, true
}

// requestResponse obtains the winner's reply through the breaker and the
// retryer. Each attempt gets a fresh response deadline clamped to the
// remaining turn budget.
func (o *Orchestrator) requestResponse(ctx context.Context, responderID string, cc types.CompactContext) (types.Response, error) {
	r, err := o.registry.Get(responderID)
	if err != nil {
		return types.Response{}, err
	}
	breaker := o.breakers.For(responderID)

	return reliability.DoWithResult(ctx, o.retryer, "response", func(ctx context.Context) (types.Response, error) {
		respCtx, cancel := reliability.Within(ctx, o.cfg.Deadlines.Response)
		defer cancel()

		var resp types.Response
		err := breaker.Call(respCtx, func(c context.Context) error {
			var callErr error
			resp, callErr = r.Respond(c, cc)
			if callErr != nil {
				if c.Err() != nil {
					return types.NewTimeoutError("response", o.cfg.Deadlines.Response).WithResponder(responderID)
				}
				return types.NewResponderError(responderID, callErr)
			}
			return nil
		})
		return resp, err
	})
}

// routedContext snapshots the session context for one responder, reduced
// by its persona policy, with the upcoming turn number.
func (o *Orchestrator) routedContext(conv *types.Conversation, sess *session, responderID string, turn int) types.CompactContext {
	persona := ""
	if p := conv.Participant(responderID); p != nil {
		persona = p.Persona
	}
	routed := o.contexts.RouteForRole(sess.cc, persona)
	routed.Turn = turn
	return routed
}

// recordStats folds the turn outcome into the roster statistics.
func (o *Orchestrator) recordStats(conv *types.Conversation, speaker string, turn, tokens int, result *types.BidResult) {
	if result != nil {
		for id, score := range result.Scores {
			p := conv.Participant(id)
			if p == nil {
				continue
			}
			p.Stats.BidsSubmitted++
			n := float64(p.Stats.BidsSubmitted)
			p.Stats.AvgBidScore += (score - p.Stats.AvgBidScore) / n
		}
	}

	p := conv.Participant(speaker)
	if p == nil {
		return
	}
	p.Stats.TurnsTaken++
	p.Stats.TokensUsed += tokens
	if conv.CurrentSpeaker == speaker {
		p.Stats.ConsecutiveTurns++
	} else {
		p.Stats.ConsecutiveTurns = 1
	}
	p.Stats.LastSpokeTurn = turn
}

// terminate ends the conversation before a speaker is selected (budget
// exhausted, turn cap already reached).
func (o *Orchestrator) terminate(ctx context.Context, conv *types.Conversation, reason types.EndReason, started time.Time) (*TurnResult, error) {
	conv.Status = types.StatusCompleted
	conv.EndReason = reason
	conv.UpdatedAt = time.Now()

	o.append(ctx, conv, conv.CurrentTurn, "orchestrator", types.KindEnd, types.EndPayload{Reason: reason})
	if err := o.store.Save(ctx, conv); err != nil {
		return nil, err
	}

	o.dropSession(conv.ID)
	o.metrics.ConversationEnded(string(reason))
	o.metrics.ObserveTurn("ended", time.Since(started))
	o.bus.Publish(Event{
		Kind:           EventConversationEnded,
		ConversationID: conv.ID,
		Turn:           conv.CurrentTurn,
		EndReason:      reason,
	})
	o.logger.Info("conversation ended",
		zap.String("conversation_id", conv.ID),
		zap.String("reason", string(reason)),
		zap.Int("turns", conv.CurrentTurn))

	return &TurnResult{Turn: conv.CurrentTurn, Ended: true, EndReason: reason}, nil
}

// session returns the runtime state for a conversation, rebuilding the
// rolling context from the channel after a restart.
func (o *Orchestrator) session(ctx context.Context, conv *types.Conversation) (*session, error) {
	o.mu.Lock()
	if sess, ok := o.sessions[conv.ID]; ok {
		o.mu.Unlock()
		return sess, nil
	}
	o.mu.Unlock()

	budgetCfg := reliability.BudgetConfig{
		ConversationLimit: conv.Budget.ConversationLimit,
		PerResponderLimit: conv.Budget.PerResponderLimit,
	}
	if budgetCfg.ConversationLimit == 0 && budgetCfg.PerResponderLimit == 0 {
		budgetCfg = o.cfg.Budget
	}

	ledger := reliability.NewLedger(budgetCfg, o.logger)
	ledger.Restore(conv.Budget)

	cc, err := o.rebuildContext(ctx, conv)
	if err != nil {
		return nil, err
	}

	sess := &session{
		cc:       cc,
		ledger:   ledger,
		detector: reliability.NewDetector(o.cfg.Termination, o.logger),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.sessions[conv.ID]; ok {
		return existing, nil
	}
	o.sessions[conv.ID] = sess
	return sess, nil
}

// rebuildContext replays retained response envelopes to recover the
// recent-turn window and summary after a restart. Entries trimmed by
// channel retention are simply absent.
func (o *Orchestrator) rebuildContext(ctx context.Context, conv *types.Conversation) (types.CompactContext, error) {
	cc := o.contexts.CreateInitial(conv.ID, conv.Topic, conv.Goal, conv.ParticipantIDs())
	if conv.CurrentTurn == 0 {
		return cc, nil
	}

	entries, err := o.channel.RangeRead(ctx, channel.ConversationKey(conv.ID), 1, contextRebuildLimit)
	if err != nil {
		return cc, types.NewError(types.ErrUnavailable, "replay conversation channel").WithCause(err)
	}
	for _, entry := range entries {
		env := entry.Envelope
		if env.Kind != types.KindResponse {
			continue
		}
		var payload types.ResponsePayload
		if err := types.DecodePayload(&env, &payload); err != nil {
			o.logger.Warn("skipping malformed envelope during replay",
				zap.String("conversation_id", conv.ID),
				zap.Int64("seq", entry.Seq),
				zap.Error(err))
			continue
		}
		cc = o.contexts.Update(ctx, cc, env.Turn, env.SenderID, payload.Content)
	}
	cc.Turn = conv.CurrentTurn
	return cc, nil
}

func (o *Orchestrator) dropSession(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, conversationID)
}

// append publishes an envelope on the conversation's channel and on any
// additional responder inbox keys. Channel append is best-effort audit
// traffic: a failure is logged, never fatal to the turn.
func (o *Orchestrator) append(ctx context.Context, conv *types.Conversation, turn int, sender string, kind types.MessageKind, payload any, inboxes ...string) {
	raw, err := types.EncodePayload(payload)
	if err != nil {
		o.logger.Error("encode envelope payload", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	env := types.Envelope{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Turn:           turn,
		SenderID:       sender,
		Kind:           kind,
		Payload:        raw,
		Timestamp:      time.Now(),
	}
	keys := append([]string{channel.ConversationKey(conv.ID)}, inboxes...)
	for _, key := range keys {
		if _, err := o.channel.Append(ctx, key, env); err != nil {
			o.logger.Warn("channel append failed",
				zap.String("conversation_id", conv.ID),
				zap.String("channel_key", key),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
	}
}

func invalidTransition(conv *types.Conversation, op string) error {
	return types.NewError(types.ErrInvalidTransition,
		"cannot "+op+" conversation "+conv.ID+" in status "+string(conv.Status))
}

func deadlineOf(ctx context.Context, d time.Duration) time.Time {
	deadline := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}
