package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClampAlignment(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{150, 100},
		{-5, 0},
		{0, 0},
		{100, 100},
		{42.5, 42.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampAlignment(tt.in), "ClampAlignment(%v)", tt.in)
	}
}

func TestTier(t *testing.T) {
	tests := []struct {
		alignment float64
		want      AlignmentTier
	}{
		{100, TierStrong},
		{75, TierStrong},
		{74.9, TierGood},
		{60, TierGood},
		{59, TierModerate},
		{50, TierModerate},
		{49, TierWeakPositive},
		{45, TierWeakPositive},
		{44, TierWeak},
		{25, TierWeak},
		{24.9, TierDistaste},
		{0, TierDistaste},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tier(tt.alignment), "Tier(%v)", tt.alignment)
	}
}

func TestInfluence_Clone(t *testing.T) {
	orig := &Influence{
		ID:         uuid.New(),
		CategoryID: uuid.New(),
		Name:       "Radiohead",
		Alignment:  90,
		Position:   3,
		MoodTags:   []string{"melancholy"},
	}

	c := orig.Clone()
	assert.Equal(t, uuid.Nil, c.ID)
	assert.Equal(t, orig.Name, c.Name)
	assert.Equal(t, orig.Alignment, c.Alignment)

	c.MoodTags[0] = "upbeat"
	assert.Equal(t, "melancholy", orig.MoodTags[0], "clone must not share mood tags")
}

func TestInfluence_Served(t *testing.T) {
	inf := &Influence{Alignment: 60}
	assert.True(t, inf.Served(60))
	assert.False(t, inf.Served(60.5))
}
