package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydost/dost/store"
	"github.com/mydost/dost/store/storetest"
)

func TestStore_DeleteUserData(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver, nil)
	ctx := context.Background()

	_, err := st.CreateMessage(ctx, &store.Message{ConversationID: "c1", UserID: "user-1", Role: store.RoleUser, Content: "hello"})
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, &store.Message{ConversationID: "c2", UserID: "user-2", Role: store.RoleUser, Content: "hi"})
	require.NoError(t, err)
	_, err = st.CreateMemory(ctx, &store.MemoryRecord{UserID: "user-1", Type: store.MemoryTypeConversation, Content: "hello", Embedding: []float32{1}})
	require.NoError(t, err)
	_, err = st.UpsertUserProfile(ctx, &store.UpsertUserProfile{UserID: "user-1", Preferences: map[string]any{"name": "Rahul"}})
	require.NoError(t, err)

	require.NoError(t, st.DeleteUserData(ctx, "user-1"))

	// Everything user-1 owned is gone; user-2 is untouched.
	assert.Empty(t, driver.Memories)
	assert.NotContains(t, driver.Profiles, "user-1")
	require.Len(t, driver.Messages, 1)
	assert.Equal(t, "user-2", driver.Messages[0].UserID)
}

func TestStore_ConversationSummaryPreview(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver, nil)
	ctx := context.Background()

	// The follow-up sorts before the opener alphabetically; the preview must
	// still be the earliest user message, not the lexicographic minimum.
	_, err := st.CreateMessage(ctx, &store.Message{ConversationID: "c1", UserID: "user-1", Role: store.RoleUser, Content: "zebra crossings in Guwahati"})
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, &store.Message{ConversationID: "c1", UserID: "user-1", Role: store.RoleAssistant, Content: "an answer"})
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, &store.Message{ConversationID: "c1", UserID: "user-1", Role: store.RoleUser, Content: "and what about flyovers"})
	require.NoError(t, err)

	summaries, err := st.ListConversationSummaries(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "zebra crossings in Guwahati", summaries[0].Preview)
	assert.Equal(t, 3, summaries[0].MessageCount)
}

func TestStore_MessageTruncation(t *testing.T) {
	driver := storetest.New()
	st := store.New(driver, nil)

	long := make([]byte, store.MaxMessageContentBytes+100)
	for i := range long {
		long[i] = 'a'
	}

	msg, err := st.CreateMessage(context.Background(), &store.Message{
		ConversationID: "c1",
		UserID:         "user-1",
		Role:           store.RoleUser,
		Content:        string(long),
	})
	require.NoError(t, err)
	assert.Len(t, msg.Content, store.MaxMessageContentBytes)
}
