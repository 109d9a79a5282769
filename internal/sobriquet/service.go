// Package sobriquet ties the enrichment pieces together: it snapshots
// conversation history into analysis jobs, processes dequeued jobs
// against the model, and renders stored sobriquets back into prompt
// context.
package sobriquet

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/aomori/sobriquet/internal/identity"
	"github.com/aomori/sobriquet/internal/inject"
	"github.com/aomori/sobriquet/internal/interpret"
	"github.com/aomori/sobriquet/internal/llm"
	"github.com/aomori/sobriquet/internal/pipeline"
	"github.com/aomori/sobriquet/internal/prompts"
	"github.com/aomori/sobriquet/internal/store"
)

// Stream identifies one group conversation on one platform.
type Stream struct {
	Platform string
	GroupID  string
}

func (s Stream) Key() string {
	return s.Platform + ":" + s.GroupID
}

// Deps are the collaborators the service delegates to. Names may be
// nil; display names then fall back to what the history carries.
type Deps struct {
	Store       *store.Store
	Prompts     *prompts.Builder
	Interpreter *interpret.Interpreter
	Generator   llm.Generator
	Persons     identity.PersonResolver
	Names       identity.NameResolver
	History     identity.HistoryProvider
	Selector    *inject.Selector
	Logger      *slog.Logger
}

type Settings struct {
	ProfileIDSalt       string
	AnalysisProbability float64
	HistoryLimit        int
	RecentSpeakersLimit int
	BotUserID           string
}

type Service struct {
	deps     Deps
	settings Settings
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	// replaced by tests to make the probability gate deterministic
	randFloat func() float64
}

func New(deps Deps, settings Settings) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if settings.HistoryLimit < 1 {
		settings.HistoryLimit = 30
	}
	if settings.RecentSpeakersLimit < 1 {
		settings.RecentSpeakersLimit = 8
	}
	return &Service{
		deps:      deps,
		settings:  settings,
		logger:    deps.Logger.With(slog.String("component", "sobriquet")),
		randFloat: rand.Float64,
	}
}

// AttachPipeline wires the analysis queue in after construction. The
// pipeline is built around this service's ProcessJob, so it cannot be
// part of Deps.
func (s *Service) AttachPipeline(p *pipeline.Pipeline) {
	s.pipeline = p
}

// SetNameResolver wires in a resolver that did not exist yet at
// construction time, typically the platform connector.
func (s *Service) SetNameResolver(names identity.NameResolver) {
	s.deps.Names = names
}

// TriggerAnalysis snapshots recent history for the stream and enqueues
// an analysis job pairing it with the bot's latest reply. A probability
// gate keeps model spend bounded on chatty streams.
func (s *Service) TriggerAnalysis(ctx context.Context, stream Stream, botReply string) error {
	if s.pipeline == nil || botReply == "" {
		return nil
	}
	if s.randFloat() > s.settings.AnalysisProbability {
		s.logger.Debug("analysis skipped by probability gate", slog.String("stream", stream.Key()))
		return nil
	}

	messages := s.deps.History.MessagesBefore(stream.Key(), time.Now(), s.settings.HistoryLimit)
	if len(messages) == 0 {
		s.logger.Debug("no history for stream, nothing to analyze", slog.String("stream", stream.Key()))
		return nil
	}

	names := s.displayNames(ctx, stream.Platform, messages)
	job := &pipeline.Job{
		ConversationText:    renderConversation(messages, names),
		BotReplyText:        botReply,
		Platform:            stream.Platform,
		GroupID:             stream.GroupID,
		DisplayNameByUserID: names,
	}
	if err := s.pipeline.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue analysis job",
			slog.String("stream", stream.Key()), slog.Any("error", err))
		return err
	}
	return nil
}

// ProcessJob is the pipeline's consumer callback: one model round trip
// plus persistence of every surviving mapping entry. Per-entry failures
// are logged and skipped so one bad account cannot sink the batch.
func (s *Service) ProcessJob(ctx context.Context, job *pipeline.Job) error {
	prompt := s.deps.Prompts.BuildMappingPrompt(job.ConversationText, job.BotReplyText, job.DisplayNameByUserID)
	reply, err := s.deps.Generator.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate mapping: %w", err)
	}

	result := s.deps.Interpreter.Interpret(reply, job.DisplayNameByUserID)
	if !result.Found {
		s.logger.Debug("no sobriquet mapping in model reply", slog.String("job", job.ID))
		return nil
	}

	userIDs := make([]string, 0, len(result.Mapping))
	for uid := range result.Mapping {
		userIDs = append(userIDs, uid)
	}
	sort.Strings(userIDs)

	for _, uid := range userIDs {
		name := result.Mapping[uid]
		personKey, err := s.deps.Persons.ResolvePersonKey(ctx, job.Platform, uid)
		if err != nil {
			s.logger.Warn("person resolution failed, skipping entry",
				slog.String("user_id", uid), slog.Any("error", err))
			continue
		}
		profileID, err := store.GenerateProfileID(s.settings.ProfileIDSalt, personKey)
		if err != nil {
			s.logger.Warn("profile id derivation failed, skipping entry",
				slog.String("user_id", uid), slog.Any("error", err))
			continue
		}
		if _, err := s.deps.Store.EnsureProfile(ctx, profileID, personKey, job.Platform, uid); err != nil {
			s.logger.Warn("profile upsert failed, skipping entry",
				slog.String("profile_id", profileID), slog.Any("error", err))
			continue
		}
		ok, err := s.deps.Store.IncrementSobriquet(ctx, profileID, job.Platform, job.GroupID, name)
		if err != nil {
			s.logger.Warn("sobriquet increment failed",
				slog.String("profile_id", profileID), slog.Any("error", err))
			continue
		}
		if ok {
			s.logger.Info("recorded sobriquet",
				slog.String("profile_id", profileID),
				slog.String("group", store.GroupKey(job.Platform, job.GroupID)),
				slog.String("name", name))
		}
	}
	return nil
}

// PromptInjection renders the stored sobriquets of the given users (or,
// when none are given, of the stream's recent speakers) as a context
// block. Every failure path degrades to an empty string.
func (s *Service) PromptInjection(ctx context.Context, stream Stream, userIDs []string) string {
	if s.deps.Selector == nil || s.deps.Store == nil {
		return ""
	}
	if len(userIDs) == 0 {
		userIDs = s.deps.History.RecentSpeakers(stream.Key(), s.settings.RecentSpeakersLimit)
	}
	userIDs = s.dedupe(userIDs)
	if len(userIDs) == 0 {
		return ""
	}

	resolved := s.batchNames(ctx, stream.Platform, userIDs)
	byDisplayName := make(map[string]inject.User, len(userIDs))
	for _, uid := range userIDs {
		personKey, err := s.deps.Persons.ResolvePersonKey(ctx, stream.Platform, uid)
		if err != nil {
			s.logger.Debug("person resolution failed during injection",
				slog.String("user_id", uid), slog.Any("error", err))
			continue
		}
		profileID, err := store.GenerateProfileID(s.settings.ProfileIDSalt, personKey)
		if err != nil {
			continue
		}
		found, err := s.deps.Store.GroupSobriquets(ctx, profileID, stream.Platform, stream.GroupID)
		if err != nil {
			s.logger.Debug("sobriquet lookup failed during injection",
				slog.String("profile_id", profileID), slog.Any("error", err))
			continue
		}
		if len(found) == 0 {
			continue
		}

		counts := make([]inject.NameCount, 0, len(found))
		for _, sq := range found {
			counts = append(counts, inject.NameCount{Name: sq.Name, Count: sq.Count})
		}
		displayName := resolved[uid]
		if displayName == "" {
			displayName = fallbackName(uid)
		}
		if _, taken := byDisplayName[displayName]; taken {
			displayName = displayName + "(" + lastRunes(uid, 4) + ")"
		}
		byDisplayName[displayName] = inject.User{PersonID: profileID, Sobriquets: counts}
	}
	if len(byDisplayName) == 0 {
		return ""
	}
	return inject.Format(s.deps.Selector.Select(byDisplayName))
}

// displayNames builds the uid → name map for one history snapshot,
// preferring the name resolver, then the name the history saw last,
// then a truncated-id placeholder. The bot's own entry is tagged so the
// interpreter vetoes it downstream.
func (s *Service) displayNames(ctx context.Context, platform string, messages []identity.Message) map[string]string {
	userIDs := make([]string, 0, len(messages))
	seen := make(map[string]bool, len(messages))
	lastSeen := make(map[string]string, len(messages))
	for _, m := range messages {
		if m.UserID == "" {
			continue
		}
		if !seen[m.UserID] {
			seen[m.UserID] = true
			userIDs = append(userIDs, m.UserID)
		}
		if m.DisplayName != "" {
			lastSeen[m.UserID] = m.DisplayName
		}
	}

	resolved := s.batchNames(ctx, platform, userIDs)
	names := make(map[string]string, len(userIDs))
	for _, uid := range userIDs {
		name := resolved[uid]
		if name == "" {
			name = lastSeen[uid]
		}
		if name == "" {
			name = fallbackName(uid)
		}
		if uid == s.settings.BotUserID {
			name += interpret.SelfMarker
		}
		names[uid] = name
	}
	return names
}

func (s *Service) batchNames(ctx context.Context, platform string, userIDs []string) map[string]string {
	if s.deps.Names == nil || len(userIDs) == 0 {
		return map[string]string{}
	}
	resolved, err := s.deps.Names.BatchDisplayNames(ctx, platform, userIDs)
	if err != nil {
		s.logger.Debug("batch display name lookup failed", slog.Any("error", err))
		return map[string]string{}
	}
	return resolved
}

func (s *Service) dedupe(userIDs []string) []string {
	out := make([]string, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, uid := range userIDs {
		if uid == "" || uid == s.settings.BotUserID || seen[uid] {
			continue
		}
		seen[uid] = true
		out = append(out, uid)
	}
	return out
}

func renderConversation(messages []identity.Message, names map[string]string) string {
	var b strings.Builder
	for _, m := range messages {
		name := names[m.UserID]
		if name == "" {
			name = fallbackName(m.UserID)
		}
		fmt.Fprintf(&b, "%s(%s): %s\n", name, m.UserID, m.Text)
	}
	return b.String()
}

func fallbackName(userID string) string {
	return "user(" + lastRunes(userID, 4) + ")"
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
