// Package build turns a source manifest into rule-set JSON files.
package build

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cinmou/singbox-rules/internal/errors"
	"github.com/cinmou/singbox-rules/internal/observability"
	"github.com/cinmou/singbox-rules/internal/ruleset"
	"github.com/cinmou/singbox-rules/internal/source"
)

// Index is the build summary written next to the output directories. Paths
// are recorded relative to the install root so the index stays valid when the
// tree is copied elsewhere.
type Index struct {
	GeneratedAt int64              `json:"generated_at"`
	Sets        map[string]SetInfo `json:"sets"`
}

type SetInfo struct {
	JSON         string   `json:"json"`
	Domain       int      `json:"domain"`
	DomainSuffix int      `json:"domain_suffix"`
	IPCIDR       int      `json:"ip_cidr"`
	Sources      []string `json:"sources"`
}

// Builder fetches every tag's upstream lists and writes one rule-set JSON
// file per tag, in sorted tag order, aborting on the first failure.
type Builder struct {
	getter    source.Getter
	jsonDir   string
	indexPath string
	now       func() time.Time
}

func New(getter source.Getter, jsonDir, indexPath string) *Builder {
	return &Builder{
		getter:    getter,
		jsonDir:   jsonDir,
		indexPath: indexPath,
		now:       time.Now,
	}
}

func (b *Builder) BuildAll(ctx context.Context, manifest *source.Manifest) (*Index, error) {
	ctx, span := observability.Tracer.Start(ctx, "builder.BuildAll")
	defer span.End()

	if err := os.MkdirAll(b.jsonDir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeEnv, "create json output directory")
	}

	index := &Index{
		GeneratedAt: b.now().Unix(),
		Sets:        make(map[string]SetInfo, len(manifest.Sets)),
	}

	for _, tag := range manifest.Tags() {
		urls := manifest.Sets[tag]

		var merged ruleset.Rules
		for _, url := range urls {
			body, err := b.getter.Get(ctx, url)
			if err != nil {
				return nil, errors.AddContext(err, errors.CtxTag, tag)
			}
			merged.Merge(ruleset.Parse(string(body)))
		}
		merged.Normalize()

		outPath := filepath.Join(b.jsonDir, tag+".json")
		if err := ruleset.Build(merged).WriteFile(outPath); err != nil {
			return nil, errors.AddContext(
				errors.Wrap(err, errors.CodeEnv, "write rule-set json"),
				errors.CtxTag, tag)
		}

		observability.RulesParsedTotal.WithLabelValues("domain").Add(float64(len(merged.Domain)))
		observability.RulesParsedTotal.WithLabelValues("domain_suffix").Add(float64(len(merged.DomainSuffix)))
		observability.RulesParsedTotal.WithLabelValues("ip_cidr").Add(float64(len(merged.IPCIDR)))
		observability.RuleSetsBuiltTotal.Inc()

		index.Sets[tag] = SetInfo{
			JSON:         filepath.ToSlash(filepath.Join("output", "json", tag+".json")),
			Domain:       len(merged.Domain),
			DomainSuffix: len(merged.DomainSuffix),
			IPCIDR:       len(merged.IPCIDR),
			Sources:      urls,
		}

		slog.Info("rule-set built", "tag", tag,
			"domain", len(merged.Domain),
			"domain_suffix", len(merged.DomainSuffix),
			"ip_cidr", len(merged.IPCIDR))
	}

	if err := b.writeIndex(index); err != nil {
		return nil, err
	}
	return index, nil
}

func (b *Builder) writeIndex(index *Index) error {
	if err := os.MkdirAll(filepath.Dir(b.indexPath), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeEnv, "create output directory")
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode index")
	}
	if err := os.WriteFile(b.indexPath, append(data, '\n'), 0o644); err != nil {
		return errors.Wrap(err, errors.CodeEnv, "write index")
	}
	return nil
}
