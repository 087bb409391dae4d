package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestObjectID(t *testing.T) {
	want := primitive.NewObjectID()
	got, err := objectID(want.Hex())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = objectID("not-an-object-id")
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = objectID("")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestMapNotFound(t *testing.T) {
	assert.ErrorIs(t, mapNotFound(mongo.ErrNoDocuments), ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, mapNotFound(other))
	assert.NotErrorIs(t, mapNotFound(other), ErrNotFound)
}
