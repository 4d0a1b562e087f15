// Package extract turns raw feed articles into structured news records with
// an LLM, and answers free-form strategy questions over recent news.
package extract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/cloudwatcher/internal/collect"
	"github.com/TobiSchelling/cloudwatcher/internal/database"
	"github.com/TobiSchelling/cloudwatcher/internal/llm"
)

const (
	defaultMaxTokens          = 1024
	defaultPromptContentChars = 3000
	adviseMaxTokens           = 2048
)

// ErrInvalidResult is returned when the model answer is not a usable record.
var ErrInvalidResult = errors.New("invalid extraction result")

// Result is the structured output of one extraction.
type Result struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Provider       string   `json:"provider"`
	Service        string   `json:"service"`
	Category       Category `json:"category"`
	ImpactLevel    int      `json:"impact_level"`
	ImpactAnalysis string   `json:"impact_analysis"`
	Link           string   `json:"link"`
	RawSource      string   `json:"raw_source"`
}

// Record converts the result into a record ready for insertion.
func (r *Result) Record() *database.NewsRecord {
	return &database.NewsRecord{
		Title:          r.Title,
		Summary:        r.Summary,
		Provider:       r.Provider,
		Service:        r.Service,
		Category:       string(r.Category),
		ImpactLevel:    r.ImpactLevel,
		ImpactAnalysis: r.ImpactAnalysis,
		Link:           r.Link,
		RawSource:      r.RawSource,
	}
}

// Options tunes the gateway. Zero values fall back to the defaults.
type Options struct {
	MaxTokens          int
	PromptContentChars int
}

// Gateway wraps an LLM provider with the extraction and advisory prompts.
type Gateway struct {
	provider llm.Provider
	opts     Options
	logger   *zap.Logger
}

// New creates a gateway over provider.
func New(provider llm.Provider, opts Options, logger *zap.Logger) *Gateway {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.PromptContentChars <= 0 {
		opts.PromptContentChars = defaultPromptContentChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{provider: provider, opts: opts, logger: logger}
}

// Extract asks the model for a structured record of article. Any failure is
// logged as a warning and returned; panics from the provider are recovered.
func (g *Gateway) Extract(ctx context.Context, article collect.Article) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("extraction panicked: %v", r)
		}
		if err != nil {
			g.logger.Warn("AI extraction failed",
				zap.String("title", collect.Truncate(article.Title, 15)),
				zap.String("link", article.Link),
				zap.Error(err))
		}
	}()

	prompt := extractionPrompt(article, g.opts.PromptContentChars)
	text, err := g.provider.Generate(ctx, prompt, g.opts.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("generating extraction: %w", err)
	}

	data, err := llm.ParseJSONResponse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}

	return buildResult(data, article)
}

func extractionPrompt(article collect.Article, contentChars int) string {
	provider := article.SourceHint
	if provider == "" {
		provider = "Unknown"
	}
	return fmt.Sprintf(`Rôle : expert en Data Engineering.
Tâche : extrais les informations de cette actualité Cloud au format JSON.

Source : %s
Titre : %s
Contenu : %s

Règles :
1. Résumé en français (2 phrases maximum).
2. Catégorie PARMI : [Storage, Compute, ML, Governance, Security, ETL, Database].
3. Impact : 1 (faible), 2 (moyen), 3 (critique/stratégique).
4. Analyse d'impact : 1 phrase pour un CTO.

Réponds uniquement avec ce JSON :
{
  "title": "Titre FR",
  "summary": "Résumé FR",
  "provider": "AWS/Azure/GCP",
  "service": "Nom du service",
  "category": "Catégorie",
  "impact_level": 1,
  "impact_analysis": "Analyse..."
}`, provider, article.Title, collect.Truncate(article.Content, contentChars))
}

func buildResult(data map[string]any, article collect.Article) (*Result, error) {
	summary := stringField(data, "summary")
	if summary == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrInvalidResult)
	}

	label := stringField(data, "category")
	category, ok := ParseCategory(label)
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidResult, label)
	}

	impact, err := impactField(data["impact_level"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}

	res := &Result{
		Title:          stringField(data, "title"),
		Summary:        summary,
		Provider:       stringField(data, "provider"),
		Service:        stringField(data, "service"),
		Category:       category,
		ImpactLevel:    impact,
		ImpactAnalysis: stringField(data, "impact_analysis"),
		Link:           article.Link,
		RawSource:      article.SourceHint,
	}
	if res.Title == "" {
		res.Title = article.Title
	}
	if res.Provider == "" {
		res.Provider = article.SourceHint
	}
	return res, nil
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func impactField(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("impact_level %q is not a number", n)
		}
		f = parsed
	case nil:
		return 0, errors.New("missing impact_level")
	default:
		return 0, fmt.Errorf("impact_level has type %T", v)
	}
	if f != math.Trunc(f) || f < 1 || f > 3 {
		return 0, fmt.Errorf("impact_level %v out of range 1..3", f)
	}
	return int(f), nil
}

// Advise forwards a strategy question and a news digest to the model. The
// returned text is always displayable: on failure it is an "unavailable"
// notice embedding the error, which is also returned.
func (g *Gateway) Advise(ctx context.Context, question, digest string) (string, error) {
	prompt := fmt.Sprintf(`Tu es un consultant stratégique en Cloud.
Contexte actualité : %s
Question : "%s"
Réponds en Markdown.`, digest, question)

	text, err := g.provider.Generate(ctx, prompt, adviseMaxTokens)
	if err != nil {
		g.logger.Warn("Advisor request failed", zap.Error(err))
		return Unavailable(err), err
	}
	return text, nil
}

// Unavailable is the advisor answer shown when the model cannot be reached.
func Unavailable(err error) string {
	return fmt.Sprintf("Unavailable for now (%v)", err)
}

// BuildDigest renders records as the advisor context, one line per record.
func BuildDigest(records []database.NewsRecord) string {
	var sb strings.Builder
	sb.WriteString("Cloud news:\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "- %s (Impact: %d)\n", r.Title, r.ImpactLevel)
	}
	return sb.String()
}
