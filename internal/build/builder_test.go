package build

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/cinmou/singbox-rules/internal/errors"
	"github.com/cinmou/singbox-rules/internal/ruleset"
	"github.com/cinmou/singbox-rules/internal/source"
)

type fakeGetter struct {
	responses map[string]string
	failures  map[string]error
	calls     []string
}

func (f *fakeGetter) Get(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.failures[url]; ok {
		return nil, err
	}
	return []byte(f.responses[url]), nil
}

func newBuilder(t *testing.T, getter source.Getter) (*Builder, string) {
	t.Helper()
	root := t.TempDir()
	b := New(getter, filepath.Join(root, "output", "json"), filepath.Join(root, "output", "index.json"))
	b.now = func() time.Time { return time.Unix(1700000000, 0) }
	return b, root
}

func TestBuildAll(t *testing.T) {
	getter := &fakeGetter{responses: map[string]string{
		"https://example.com/cn.txt":  "google.cn\nbaidu.com\n",
		"https://example.com/cn2.txt": "baidu.com\n10.0.0.0/8\n",
		"https://example.com/ads.txt": "DOMAIN,ads.example.com\n",
	}}
	manifest := &source.Manifest{Sets: map[string][]string{
		"cn":  {"https://example.com/cn.txt", "https://example.com/cn2.txt"},
		"ads": {"https://example.com/ads.txt"},
	}}

	b, root := newBuilder(t, getter)
	index, err := b.BuildAll(context.Background(), manifest)
	require.NoError(t, err)

	// Tags are processed in sorted order, so ads URLs come first.
	require.NotEmpty(t, getter.calls)
	assert.Equal(t, "https://example.com/ads.txt", getter.calls[0])

	data, err := os.ReadFile(filepath.Join(root, "output", "json", "cn.json"))
	require.NoError(t, err)
	var rs ruleset.RuleSet
	require.NoError(t, json.Unmarshal(data, &rs))
	assert.Equal(t, 3, rs.Version)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, []string{"baidu.com", "google.cn"}, rs.Rules[0].DomainSuffix)
	assert.Equal(t, []string{"10.0.0.0/8"}, rs.Rules[1].IPCIDR)

	cn := index.Sets["cn"]
	assert.Equal(t, "output/json/cn.json", cn.JSON)
	assert.Equal(t, 2, cn.DomainSuffix)
	assert.Equal(t, 1, cn.IPCIDR)
	assert.Equal(t, 0, cn.Domain)
	assert.Len(t, cn.Sources, 2)

	ads := index.Sets["ads"]
	assert.Equal(t, 1, ads.Domain)

	indexData, err := os.ReadFile(filepath.Join(root, "output", "index.json"))
	require.NoError(t, err)
	var decoded Index
	require.NoError(t, json.Unmarshal(indexData, &decoded))
	assert.Equal(t, int64(1700000000), decoded.GeneratedAt)
	assert.Len(t, decoded.Sets, 2)
}

func TestBuildAllFetchFailureAborts(t *testing.T) {
	getter := &fakeGetter{
		responses: map[string]string{"https://example.com/a.txt": "a.example.com\n"},
		failures: map[string]error{
			"https://example.com/b.txt": domainerrors.Wrap(errors.New("boom"), domainerrors.CodeFetch, "fetch rule list"),
		},
	}
	manifest := &source.Manifest{Sets: map[string][]string{
		"alpha": {"https://example.com/a.txt"},
		"beta":  {"https://example.com/b.txt"},
	}}

	b, root := newBuilder(t, getter)
	_, err := b.BuildAll(context.Background(), manifest)
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, domainerrors.CodeFetch))

	// alpha was built before beta failed, but no index was written.
	_, statErr := os.Stat(filepath.Join(root, "output", "json", "alpha.json"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(root, "output", "index.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildAllEmptyManifest(t *testing.T) {
	b, root := newBuilder(t, &fakeGetter{})
	index, err := b.BuildAll(context.Background(), &source.Manifest{Sets: map[string][]string{}})
	require.NoError(t, err)
	assert.Empty(t, index.Sets)

	_, statErr := os.Stat(filepath.Join(root, "output", "index.json"))
	assert.NoError(t, statErr)
}
