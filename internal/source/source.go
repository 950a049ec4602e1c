// Package source loads the rule-set source manifest: a YAML mapping from
// rule-set tag to a list of upstream rule-list URLs.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cinmou/singbox-rules/internal/errors"
)

// Manifest maps rule-set tags to the upstream URLs they are built from.
// Tags whose value is empty or not a list are dropped during parsing.
type Manifest struct {
	Sets map[string][]string
}

// Tags returns the manifest's tags in sorted order for deterministic builds.
func (m *Manifest) Tags() []string {
	tags := make([]string, 0, len(m.Sets))
	for tag := range m.Sets {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Parse decodes a manifest document. The document must be a mapping; anything
// else is a SOURCE_ERROR.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.CodeSource, "decode source manifest")
	}
	if raw == nil {
		return nil, errors.New(errors.CodeSource, "source manifest is empty, expected mapping")
	}

	sets := make(map[string][]string, len(raw))
	for tag, value := range raw {
		list, ok := value.([]interface{})
		if !ok || len(list) == 0 {
			continue
		}
		urls := make([]string, 0, len(list))
		for _, item := range list {
			urls = append(urls, fmt.Sprint(item))
		}
		sets[tag] = urls
	}

	return &Manifest{Sets: sets}, nil
}

// Getter is the subset of the fetch client the loader needs.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Loader resolves the manifest from a remote URL, falling back to a local
// file when the remote is unreachable.
type Loader struct {
	getter    Getter
	url       string
	localPath string
}

func NewLoader(getter Getter, url, localPath string) *Loader {
	return &Loader{getter: getter, url: url, localPath: localPath}
}

func (l *Loader) Load(ctx context.Context) (*Manifest, error) {
	slog.Info("fetching sources from remote", "url", l.url)
	data, err := l.getter.Get(ctx, l.url)
	if err != nil {
		slog.Warn("remote sources fetch failed, falling back to local file",
			"error", err, "path", l.localPath)
		data, err = os.ReadFile(l.localPath)
		if err != nil {
			return nil, errors.AddContext(
				errors.Wrap(err, errors.CodeEnv, "read local source manifest"),
				errors.CtxPath, l.localPath)
		}
	}
	return Parse(data)
}
