package database

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"captaincrm/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// recordingNotifier captures change notifications together with the mirror
// state visible at notification time.
type recordingNotifier struct {
	db *DB

	mu      sync.Mutex
	writes  []models.Record
	deletes []int64
	states  []models.MirrorState
}

func (n *recordingNotifier) OnWrite(ctx context.Context, r models.Record) {
	st, _ := n.db.GetMirrorState(ctx, r.Kind(), r.RecordID())
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes = append(n.writes, r)
	if st != nil {
		n.states = append(n.states, st.State)
	}
}

func (n *recordingNotifier) OnDelete(_ context.Context, _ models.EntityKind, id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deletes = append(n.deletes, id)
}

func createClient(t *testing.T, db *DB, email string) *models.Client {
	t.Helper()
	c := &models.Client{Name: "Client " + email, Email: email}
	require.NoError(t, db.CreateClient(context.Background(), c))
	return c
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "crm.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDB_IdempotentSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "crm.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	createClient(t, db, "kept@example.com")
	require.NoError(t, db.Close())

	db, err = NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.Count(context.Background(), models.KindClient)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCreateClient(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("Defaults", func(t *testing.T) {
		c := createClient(t, db, "  Anna@Example.COM ")
		assert.NotZero(t, c.ID)
		assert.Equal(t, "anna@example.com", c.Email)
		assert.Equal(t, 5, c.Rating)
		assert.Zero(t, c.Cancellations)
		assert.True(t, c.Active)
		assert.False(t, c.CreatedAt.IsZero())
	})

	t.Run("MissingEmail", func(t *testing.T) {
		_, err := db.Create(ctx, models.KindClient, models.Fields{"name": "No Email"})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("UnknownAttribute", func(t *testing.T) {
		_, err := db.Create(ctx, models.KindClient, models.Fields{"email": "x@example.com", "shoe_size": 42})
		var vErr *models.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "shoe_size", vErr.Field)
	})

	t.Run("RatingOutOfRange", func(t *testing.T) {
		_, err := db.Create(ctx, models.KindClient, models.Fields{"email": "r@example.com", "rating": 11})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("DuplicateActiveEmail", func(t *testing.T) {
		first := createClient(t, db, "dup@example.com")
		_, err := db.Create(ctx, models.KindClient, models.Fields{"email": "DUP@example.com"})

		var cErr *models.ConflictError
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, "email", cErr.Field)
		assert.Equal(t, first.ID, cErr.ExistingID)
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("InactiveEmailCanBeReused", func(t *testing.T) {
		old := createClient(t, db, "reuse@example.com")
		require.NoError(t, db.Update(ctx, models.KindClient, old.ID, models.Fields{"active": false}))

		fresh := createClient(t, db, "reuse@example.com")
		assert.NotEqual(t, old.ID, fresh.ID)

		found, err := db.FindClientByEmail(ctx, "reuse@example.com")
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, found.ID)
	})
}

func TestUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c := createClient(t, db, "upd@example.com")

	t.Run("PartialUpdateKeepsOtherFields", func(t *testing.T) {
		require.NoError(t, db.Update(ctx, models.KindClient, c.ID, models.Fields{"phone": "+30 123"}))

		got, err := db.GetClient(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "+30 123", got.Phone)
		assert.Equal(t, c.Name, got.Name)
		assert.Equal(t, c.Email, got.Email)
		assert.False(t, got.UpdatedAt.Before(c.UpdatedAt))
	})

	t.Run("MissingID", func(t *testing.T) {
		err := db.Update(ctx, models.KindClient, 9999, models.Fields{"phone": "1"})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("EmptyFieldsOnMissingID", func(t *testing.T) {
		err := db.Update(ctx, models.KindClient, 9999, models.Fields{})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("UnknownAttribute", func(t *testing.T) {
		err := db.Update(ctx, models.KindClient, c.ID, models.Fields{"favourite_colour": "blue"})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("EmailTakenByAnotherClient", func(t *testing.T) {
		other := createClient(t, db, "other@example.com")
		err := db.Update(ctx, models.KindClient, c.ID, models.Fields{"email": "other@example.com"})
		var cErr *models.ConflictError
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, other.ID, cErr.ExistingID)
	})
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	n := &recordingNotifier{db: db}
	db.SetNotifier(n)

	c := createClient(t, db, "del@example.com")

	require.NoError(t, db.Delete(ctx, models.KindClient, c.ID))
	require.NoError(t, db.Delete(ctx, models.KindClient, c.ID))

	_, err := db.Get(ctx, models.KindClient, c.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, []int64{c.ID}, n.deletes)
}

func TestWriteNotifiesAfterMarkingMirrorState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	n := &recordingNotifier{db: db}
	db.SetNotifier(n)

	c := createClient(t, db, "notify@example.com")
	require.Len(t, n.writes, 1)
	assert.Equal(t, c.ID, n.writes[0].RecordID())
	assert.Equal(t, models.MirrorUnsynced, n.states[0])

	// A mirror that never caught up keeps the entity unsynced.
	require.NoError(t, db.Update(ctx, models.KindClient, c.ID, models.Fields{"notes": "vip"}))
	assert.Equal(t, models.MirrorUnsynced, n.states[1])

	require.NoError(t, db.MarkMirrorState(ctx, models.KindClient, c.ID, models.MirrorSynced, ""))
	require.NoError(t, db.Update(ctx, models.KindClient, c.ID, models.Fields{"notes": "vip+"}))
	assert.Equal(t, models.MirrorStale, n.states[2])

	latest := n.writes[2].(*models.Client)
	assert.Equal(t, "vip+", latest.Notes)
}

func TestConcurrentClientCreation(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	const workers = 10

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.Create(ctx, models.KindClient, models.Fields{"email": "same@example.com", "name": "Racer"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case assert.ErrorIs(t, err, models.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, conflicts)

	n, err := db.Count(ctx, models.KindClient)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
