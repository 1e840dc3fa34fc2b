package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

func TestViewRepositoryLifecycle(t *testing.T) {
	repo := NewViewRepository(filepath.Join(t.TempDir(), "nested", "views.yaml"))

	views, err := repo.List()
	require.NoError(t, err)
	assert.Empty(t, views)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(models.SavedView{Name: "high", Query: "qualityMin=0.8&status=pending", SavedAt: at}))
	require.NoError(t, repo.Save(models.SavedView{Name: "approved", Query: "status=approved", SavedAt: at}))
	require.NoError(t, repo.Save(models.SavedView{Name: "high", Query: "qualityMin=0.9", SavedAt: at}))

	views, err = repo.List()
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "approved", views[0].Name)
	assert.Equal(t, "qualityMin=0.9", views[1].Query)

	v, err := repo.Get("approved")
	require.NoError(t, err)
	assert.True(t, v.SavedAt.Equal(at))

	require.NoError(t, repo.Delete("approved"))
	_, err = repo.Get("approved")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
	assert.Error(t, repo.Delete("approved"))

	assert.True(t, appErrors.IsValidation(repo.Save(models.SavedView{Name: "  "})))
}
