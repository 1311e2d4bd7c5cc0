package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"go.uber.org/zap"
)

const overrideYAML = `
catalog:
  document_types:
    - document_type: work_order
      steps:
        - order: 0
          required_role: procurement
        - order: 1
          required_role: technical_director
          recognized_flags: [COST_FLAG]
    - document_type: site_instruction
      steps:
        - order: 0
          required_role: site_engineer
          recognized_flags: [FLAG]
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFromConfig_NoOverrides(t *testing.T) {
	defs, err := FromConfig(viper.New())
	require.NoError(t, err)
	assert.Len(t, defs, len(Defaults()))
}

func TestFromConfig_MergesOverrides(t *testing.T) {
	v := viper.New()
	v.SetConfigFile(writeConfig(t, t.TempDir(), overrideYAML))
	require.NoError(t, v.ReadInConfig())

	defs, err := FromConfig(v)
	require.NoError(t, err)

	c, err := New(defs)
	require.NoError(t, err)
	assert.Len(t, c.DocumentTypes(), 6)

	wo, err := c.DefinitionFor(domain.DocWorkOrder)
	require.NoError(t, err)
	require.Len(t, wo.Steps, 2)
	assert.Equal(t, []domain.FlagName{domain.FlagCost}, wo.Steps[1].RecognizedFlags)

	si, err := c.DefinitionFor("site_instruction")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSiteEngineer, si.Steps[0].RequiredRole)
}

func TestReloader_RejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, overrideYAML)

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	c := NewDefault()
	r := NewReloader(c, v, zap.NewNop())
	require.NoError(t, r.Reload())
	_, err := c.DefinitionFor("site_instruction")
	require.NoError(t, err)

	// шаг без роли: перезагрузка отклоняется, каталог прежний
	writeConfig(t, dir, `
catalog:
  document_types:
    - document_type: site_instruction
      steps:
        - order: 0
          required_role: ""
`)
	err = r.Reload()
	require.ErrorIs(t, err, domain.ErrInvalidDefinition)

	si, err := c.DefinitionFor("site_instruction")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSiteEngineer, si.Steps[0].RequiredRole)
}

func TestReloader_ResyncPicksUpMissedChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "catalog: {}\n")

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	c := NewDefault()
	r := NewReloader(c, v, zap.NewNop())
	_, err := c.DefinitionFor("site_instruction")
	require.ErrorIs(t, err, domain.ErrUnknownDocumentType)

	// файл поменялся, пока подписка на сигнал обновления лежала
	writeConfig(t, dir, overrideYAML)
	require.NoError(t, r.resync(context.Background()))

	si, err := c.DefinitionFor("site_instruction")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSiteEngineer, si.Steps[0].RequiredRole)
}

func TestReloader_ListenResyncsOnSubscribe(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	dir := t.TempDir()
	v := viper.New()
	v.SetConfigFile(writeConfig(t, dir, overrideYAML))

	// сигнала не было: каталог подтягивается самой подпиской
	c := NewDefault()
	r := NewReloader(c, v, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Listen(ctx, rdb)

	require.Eventually(t, func() bool {
		_, err := c.DefinitionFor("site_instruction")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}
