package rolling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/avatar-memory/internal/embedding"
	"github.com/rcliao/avatar-memory/internal/llm"
	"github.com/rcliao/avatar-memory/internal/logger"
	"github.com/rcliao/avatar-memory/internal/model"
	"github.com/rcliao/avatar-memory/internal/vectorstore"
)

const (
	DefaultEvery = 5

	// SourceRollingSummary is the source recorded on meta-summary vectors.
	SourceRollingSummary = "rolling_summary"

	summaryTemperature = 0.2
	summaryMaxTokens   = 300
)

const summarySystemPrompt = `You maintain a running memory of an avatar's recent experiences.
Summarize the entries you are given into a short meta-summary organized under exactly these headings:
Mood/Emotion:
Behavior/Actions:
Events/Triggers:
Physical/Biological:
Social Interactions:
Write one or two terse lines per heading. Write "none" for a heading the entries do not touch. Do not invent details.`

// Job is one batch of newly inserted texts for a namespace.
type Job struct {
	IndexName string
	Namespace string
	UserID    string
	AvatarID  string
	Texts     []string
}

// Config tunes the compactor.
type Config struct {
	Every     int
	Window    int
	Model     string
	Timeout   time.Duration
	Embedding embedding.Policy
}

// Compactor folds recent texts into meta-summary vectors.
type Compactor struct {
	log      *logger.Logger
	states   StateStore
	llm      llm.Completer
	embedder embedding.Embedder
	store    vectorstore.Store
	cfg      Config
	now      func() time.Time
}

func NewCompactor(log *logger.Logger, states StateStore, completer llm.Completer, embedder embedding.Embedder, store vectorstore.Store, cfg Config) *Compactor {
	if cfg.Every <= 0 {
		cfg.Every = DefaultEvery
	}
	if cfg.Window <= 0 {
		cfg.Window = cfg.Every
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = llm.DefaultTimeout
	}
	return &Compactor{
		log:      log.With("service", "RollingCompactor"),
		states:   states,
		llm:      completer,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
	}
}

// MaybeCompact appends the job's texts to the namespace window and, once the
// window holds Every entries, writes a meta-summary vector and resets it.
func (c *Compactor) MaybeCompact(ctx context.Context, job Job) error {
	st, err := c.states.Load(ctx, job.Namespace)
	if err != nil {
		return err
	}

	for _, t := range job.Texts {
		if strings.TrimSpace(t) != "" {
			st.RecentTexts = append(st.RecentTexts, t)
		}
	}
	if len(st.RecentTexts) > c.cfg.Window {
		st.RecentTexts = st.RecentTexts[len(st.RecentTexts)-c.cfg.Window:]
	}
	st.UpdatedAt = c.now().UTC()

	if len(st.RecentTexts) < c.cfg.Every {
		return c.states.Save(ctx, job.Namespace, st)
	}

	summary, err := c.summarize(ctx, st.RecentTexts)
	if err != nil {
		if saveErr := c.states.Save(ctx, job.Namespace, st); saveErr != nil {
			c.log.Warn("failed to save rolling state", "namespace", job.Namespace, "error", saveErr)
		}
		return fmt.Errorf("summarize: %w", err)
	}
	if summary == "" {
		c.log.Info("blank rolling summary, keeping window", "namespace", job.Namespace, "texts", len(st.RecentTexts))
		return c.states.Save(ctx, job.Namespace, st)
	}

	res := embedding.EmbedWithFallback(ctx, c.embedder, []string{summary}, c.cfg.Embedding)
	if res.Err != nil {
		c.log.Warn("summary embedding fell back", "namespace", job.Namespace, "path", res.Path, "error", res.Err)
	}

	vec := c.metaVector(job, st, summary, res.Vectors[0])
	if err := c.store.Upsert(ctx, job.IndexName, job.Namespace, []model.Vector{vec}); err != nil {
		if saveErr := c.states.Save(ctx, job.Namespace, st); saveErr != nil {
			c.log.Warn("failed to save rolling state", "namespace", job.Namespace, "error", saveErr)
		}
		return fmt.Errorf("upsert meta summary: %w", err)
	}
	c.log.Info("rolling summary written",
		"namespace", job.Namespace,
		"index", job.IndexName,
		"id", vec.ID,
		"summary_seq", st.SummarySeq,
	)

	st.RecentTexts = nil
	st.SummarySeq++
	return c.states.Save(ctx, job.Namespace, st)
}

func (c *Compactor) summarize(ctx context.Context, texts []string) (string, error) {
	if c.llm == nil {
		return "", fmt.Errorf("no chat completion provider configured")
	}
	var b strings.Builder
	b.WriteString("Recent entries, oldest first:\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(t))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Model:       c.cfg.Model,
		System:      summarySystemPrompt,
		Prompt:      b.String(),
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Compactor) metaVector(job Job, st *model.RollingState, summary string, values []float32) model.Vector {
	now := c.now()
	meta := model.MetadataBuilder{}
	meta.Set(model.MetaUserID, job.UserID).
		Set(model.MetaAvatarID, job.AvatarID).
		Set(model.MetaDocID, ulid.Make().String()).
		Set(model.MetaCreatedAt, now.UnixMilli()).
		Set(model.MetaSource, SourceRollingSummary).
		Set(model.MetaType, model.TypeMetaSummary).
		Set(model.MetaSummarySeq, st.SummarySeq).
		Set(model.MetaWindowSize, len(st.RecentTexts)).
		Set(model.MetaText, summary)

	return model.Vector{
		ID:       fmt.Sprintf("%s-meta-%d", job.AvatarID, st.SummarySeq),
		Values:   values,
		Metadata: meta.Map(),
	}
}
