package handlers

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
)

func TestPreferenceHandler_ServedLimitKeepsStrongest(t *testing.T) {
	fx := newFixture(t)
	fx.preferences.served = []models.ServedPreference{
		{Name: "A", Alignment: 90},
		{Name: "C", Alignment: 70},
		{Name: "D", Alignment: 65},
	}

	rec := fx.do(t, http.MethodGet, fx.identityPath()+"/preferences?limit=2", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ServedResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, preference.DefaultServingThreshold, resp.Threshold)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Preferences, 2)
	assert.Equal(t, "A", resp.Preferences[0].Name)
	assert.Equal(t, "C", resp.Preferences[1].Name)
}

func TestPreferenceHandler_ServedScopedToCategory(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, fx.identityPath()+"/preferences?category_id="+fx.category.ID.String(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fx.preferences.lastCategory)
	assert.Equal(t, fx.category.ID, *fx.preferences.lastCategory)
	assert.Contains(t, rec.Body.String(), `"preferences":[]`)
}

func TestPreferenceHandler_ServedBadQuery(t *testing.T) {
	fx := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, fx.do(t, http.MethodGet, fx.identityPath()+"/preferences?limit=-2", nil).Code)
	assert.Equal(t, http.StatusBadRequest, fx.do(t, http.MethodGet, fx.identityPath()+"/preferences?category_id=x", nil).Code)
}

func TestPreferenceHandler_OtherUsersIdentity(t *testing.T) {
	fx := newFixture(t)
	path := "/api/users/" + fx.userID.String() + "/identities/" + fx.otherIdent.ID.String() + "/preferences"

	rec := fx.do(t, http.MethodGet, path, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreferenceHandler_Partition(t *testing.T) {
	fx := newFixture(t)
	p := preference.Partition([]*models.Influence{
		{ID: uuid.New(), Name: "A", Alignment: 90},
		{ID: uuid.New(), Name: "B", Alignment: 40},
	}, preference.DefaultServingThreshold)
	fx.preferences.partition = &p

	rec := fx.do(t, http.MethodGet, fx.identityPath()+"/preferences/partition", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PartitionResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, 1, resp.ServedCount)
	assert.Equal(t, 2, resp.TotalCount)
	require.Len(t, resp.Unserved, 1)
	assert.Equal(t, "B", resp.Unserved[0].Name)
	assert.Equal(t, models.TierWeak, resp.Unserved[0].Tier)
}

func TestPreferenceHandler_Summary(t *testing.T) {
	fx := newFixture(t)
	fx.preferences.summary = &models.PreferenceSummary{
		IdentityID:  fx.identity.ID,
		Threshold:   60,
		ServedCount: 1,
		TotalCount:  2,
		CacheKey:    "summary:abc",
	}

	rec := fx.do(t, http.MethodGet, fx.identityPath()+"/preferences/summary", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.PreferenceSummary
	decodeData(t, rec, &resp)
	assert.Equal(t, fx.identity.ID, resp.IdentityID)
	assert.Equal(t, 2, resp.TotalCount)
}
