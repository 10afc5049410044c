package factory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbormap/arbor"
	"github.com/arbormap/arbor/store"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "arbor.yaml", `
backend: redis
redis:
  url: redis://localhost:6379/0
  key_prefix: content
  connect_timeout: 10s
mapper:
  dynamic_instantiation: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "content", cfg.Redis.KeyPrefix)
	assert.Equal(t, 10*time.Second, cfg.Redis.GetConnectTimeout())
	assert.Equal(t, 3*time.Second, cfg.Redis.GetReadTimeout(), "unset timeouts fall back to defaults")
	assert.True(t, cfg.Mapper.DynamicInstantiation)
}

func TestLoadFromDir(t *testing.T) {
	path := writeConfig(t, "arbor.yml", "backend: memory\n")

	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		path := writeConfig(t, "arbor.yaml", "backend: [unclosed\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		path := writeConfig(t, "arbor.yaml", "backend: wibble\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "unknown backend")
	})

	t.Run("redis without url", func(t *testing.T) {
		path := writeConfig(t, "arbor.yaml", "backend: redis\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "redis.url")
	})

	t.Run("etcd without endpoints", func(t *testing.T) {
		path := writeConfig(t, "arbor.yaml", "backend: etcd\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "etcd.endpoints")
	})
}

func TestOpenMemory(t *testing.T) {
	st, err := Open(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sess, err := st.Session()
	require.NoError(t, err)
	defer sess.Close()

	root, err := sess.Root(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.RootPath, root.Path())
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := Open(&Config{
		Backend: BackendRedis,
		Redis:   &RedisConfig{URL: "redis://" + mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sess, err := st.Session()
	require.NoError(t, err)
	defer sess.Close()

	root, err := sess.Root(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, root.Identifier())
}

func TestNewMapper(t *testing.T) {
	m := NewMapper(&Config{Mapper: &MapperConfig{RawNames: true}})
	assert.Equal(t, "kept as is", m.CleanName("kept as is"))

	m = NewMapper(nil)
	assert.Equal(t, "cleaned_up", m.CleanName("cleaned up"))

	m = NewMapper(&Config{}, arbor.WithRawNames())
	assert.Equal(t, "extra opt", m.CleanName("extra opt"), "explicit options still apply")
}
