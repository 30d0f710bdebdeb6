package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"turnstile/internal/admission/repository"
	"turnstile/internal/catalog"
)

func TestCollections_CoverEveryStoredCollection(t *testing.T) {
	defs := Collections()

	for _, name := range []string{
		repository.EntriesCollection,
		repository.TicketsCollection,
		repository.LocksCollection,
		catalog.EventsCollection,
	} {
		def, ok := defs[name]
		require.True(t, ok, "missing collection %s", name)
		assert.NotEmpty(t, def.Indexes, name)
		assert.Contains(t, def.Validator, "$jsonSchema", name)
	}
}

func TestEntriesIndexes_SeqUniquePerEvent(t *testing.T) {
	var found bool
	for _, idx := range EntriesIndexes {
		if idx.Options == nil || idx.Options.Unique == nil || !*idx.Options.Unique {
			continue
		}
		assert.Equal(t, bson.D{{Key: "event_id", Value: 1}, {Key: "seq", Value: 1}}, idx.Keys)
		found = true
	}
	assert.True(t, found)
}

func TestTicketsIndexes_OneTicketPerEntry(t *testing.T) {
	idx := TicketsIndexes[0]

	require.NotNil(t, idx.Options)
	require.NotNil(t, idx.Options.Unique)
	assert.True(t, *idx.Options.Unique)
	assert.Equal(t, bson.D{{Key: "entry_id", Value: 1}}, idx.Keys)
}

func TestLocksIndexes_ExpireImmediatelyAfterDeadline(t *testing.T) {
	idx := LocksIndexes[0]

	require.NotNil(t, idx.Options)
	require.NotNil(t, idx.Options.ExpireAfterSeconds)
	assert.Equal(t, int32(0), *idx.Options.ExpireAfterSeconds)
}
