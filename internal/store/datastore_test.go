package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yogi2103/zulip/internal/models"
)

// runDataStoreTests runs the behaviour shared by every DataStore against
// fresh stores returned by open.
func runDataStoreTests(t *testing.T, open func(t *testing.T) DataStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s DataStore)
	}{
		{"Users", testUsers},
		{"GetSubMessageRows_Empty", testGetSubMessageRowsEmpty},
		{"SubMessagesOrderedByID", testSubMessagesOrderedByID},
		{"SubMessagesIsolatedPerMessage", testSubMessagesIsolatedPerMessage},
		{"ConcurrentSubMessages", testConcurrentSubMessages},
		{"Visibility", testVisibility},
		{"GetMessages", testGetMessages},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func createUser(t *testing.T, s DataStore, email string) *models.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, "", "hash")
	require.NoError(t, err)
	return u
}

func testUsers(t *testing.T, s DataStore) {
	ctx := context.Background()

	u := createUser(t, s, "iago@example.com")
	assert.NotZero(t, u.ID)

	got, err := s.GetUserByEmail(ctx, "iago@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)

	missing, err := s.GetUserByID(ctx, u.ID+100)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.CreateUser(ctx, "iago@example.com", "", "hash")
	assert.ErrorIs(t, err, ErrDuplicate, "emails are unique")
}

func testGetSubMessageRowsEmpty(t *testing.T, s DataStore) {
	ctx := context.Background()

	rows, err := s.GetSubMessageRows(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.GetSubMessageRows(ctx, []int64{42})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testSubMessagesOrderedByID(t *testing.T, s DataStore) {
	ctx := context.Background()

	sender := createUser(t, s, "sender@example.com")
	other := createUser(t, s, "other@example.com")
	msg, err := s.CreatePrivateMessage(ctx, sender.ID, []int64{other.ID}, "poll")
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 5; i++ {
		sm, err := s.CreateSubMessage(ctx, msg.ID, sender.ID, "widget", fmt.Sprintf(`{"n":%d}`, i))
		require.NoError(t, err)
		ids = append(ids, sm.ID)
	}

	rows, err := s.GetSubMessageRows(ctx, []int64{msg.ID})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i, row := range rows {
		assert.Equal(t, ids[i], row.ID)
		assert.Equal(t, msg.ID, row.MessageID)
		assert.Equal(t, sender.ID, row.SenderID)
		assert.Equal(t, "widget", row.MsgType)
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), row.Content)
		if i > 0 {
			assert.Greater(t, row.ID, rows[i-1].ID)
		}
	}
}

func testSubMessagesIsolatedPerMessage(t *testing.T, s DataStore) {
	ctx := context.Background()

	u := createUser(t, s, "u@example.com")
	a, err := s.CreatePrivateMessage(ctx, u.ID, nil, "a")
	require.NoError(t, err)
	b, err := s.CreatePrivateMessage(ctx, u.ID, nil, "b")
	require.NoError(t, err)

	_, err = s.CreateSubMessage(ctx, a.ID, u.ID, "widget", `"a1"`)
	require.NoError(t, err)
	_, err = s.CreateSubMessage(ctx, b.ID, u.ID, "widget", `"b1"`)
	require.NoError(t, err)
	_, err = s.CreateSubMessage(ctx, a.ID, u.ID, "widget", `"a2"`)
	require.NoError(t, err)

	rows, err := s.GetSubMessageRows(ctx, []int64{a.ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, `"a1"`, rows[0].Content)
	assert.Equal(t, `"a2"`, rows[1].Content)

	rows, err = s.GetSubMessageRows(ctx, []int64{b.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{`"a1"`, `"b1"`, `"a2"`}, []string{rows[0].Content, rows[1].Content, rows[2].Content})
}

func testConcurrentSubMessages(t *testing.T, s DataStore) {
	ctx := context.Background()

	u := createUser(t, s, "u@example.com")
	msg, err := s.CreatePrivateMessage(ctx, u.ID, nil, "poll")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateSubMessage(ctx, msg.ID, u.ID, "widget", fmt.Sprintf("%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := s.GetSubMessageRows(ctx, []int64{msg.ID})
	require.NoError(t, err)
	require.Len(t, rows, n)

	seen := make(map[int64]bool)
	for i, row := range rows {
		assert.False(t, seen[row.ID], "duplicate id %d", row.ID)
		seen[row.ID] = true
		if i > 0 {
			assert.Greater(t, row.ID, rows[i-1].ID)
		}
	}

	count, err := s.CountSubMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)
}

func testVisibility(t *testing.T, s DataStore) {
	ctx := context.Background()

	alice := createUser(t, s, "alice@example.com")
	bob := createUser(t, s, "bob@example.com")
	carol := createUser(t, s, "carol@example.com")

	pm, err := s.CreatePrivateMessage(ctx, alice.ID, []int64{bob.ID, bob.ID}, "hi")
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, bob.ID}, pm.Participants)

	stream, err := s.CreateStream(ctx, "design", alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stream.Subscribers)
	_, err = s.CreateStream(ctx, "design", bob.ID)
	assert.ErrorIs(t, err, ErrDuplicate, "stream names are unique")
	require.NoError(t, s.Subscribe(ctx, stream.ID, carol.ID))
	require.NoError(t, s.Subscribe(ctx, stream.ID, carol.ID))

	sm, err := s.CreateStreamMessage(ctx, alice.ID, stream.ID, "logo", "thoughts?")
	require.NoError(t, err)
	require.NotNil(t, sm.StreamID)
	assert.Equal(t, stream.ID, *sm.StreamID)

	tests := []struct {
		name      string
		messageID int64
		userID    int64
		want      bool
	}{
		{"pm sender", pm.ID, alice.ID, true},
		{"pm recipient", pm.ID, bob.ID, true},
		{"pm outsider", pm.ID, carol.ID, false},
		{"stream subscriber", sm.ID, carol.ID, true},
		{"stream non-subscriber", sm.ID, bob.ID, false},
		{"missing message", sm.ID + 100, alice.ID, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.MessageVisibleTo(ctx, tt.messageID, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	recipients, err := s.RecipientUserIDs(ctx, pm.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, bob.ID}, recipients)

	recipients, err = s.RecipientUserIDs(ctx, sm.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, carol.ID}, recipients)
}

func testGetMessages(t *testing.T, s DataStore) {
	ctx := context.Background()

	u := createUser(t, s, "u@example.com")
	m1, err := s.CreatePrivateMessage(ctx, u.ID, nil, "one")
	require.NoError(t, err)
	m2, err := s.CreatePrivateMessage(ctx, u.ID, nil, "two")
	require.NoError(t, err)

	msgs, err := s.GetMessages(ctx, []int64{m2.ID, 999, m1.ID, m2.ID})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, m1.ID, msgs[0].ID)
	assert.Equal(t, m2.ID, msgs[1].ID)
	assert.True(t, msgs[0].IsPrivate())
	assert.Equal(t, []int64{u.ID}, msgs[0].Participants)
}
