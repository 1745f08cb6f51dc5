package integration_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/auth"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/docclient"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/documents"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/library"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/offline"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/server"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/validation"
)

const (
	signingSecret = "integration-secret"
	diaryUserID   = "user-abc"
)

type stack struct {
	api    *httptest.Server
	issuer *auth.TokenIssuer
	down   atomic.Bool
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:integration_%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&documents.Document{}, &documents.DocumentChange{}))

	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "mediadiary",
		Audience:      "mediadiary-api",
		TokenTTL:      time.Hour,
	})
	require.NoError(t, err)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: issuer,
		Documents:      documentService,
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)

	s := &stack{issuer: issuer}
	s.api = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(s.api.Close)
	return s
}

func (s *stack) newSession(t *testing.T, snapshots library.OfflineFallback) *library.Session {
	t.Helper()
	token, _, err := s.issuer.IssueToken(diaryUserID)
	require.NoError(t, err)
	client, err := docclient.New(docclient.Config{BaseURL: s.api.URL, Token: token, Timeout: 5 * time.Second})
	require.NoError(t, err)
	session, err := library.NewSession(library.SessionConfig{
		Store:      client,
		Offline:    snapshots,
		Validator:  validation.New(),
		IDProvider: library.NewPlaceholderIDProvider(),
	})
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return session
}

func ptr[T any](value T) *T {
	return &value
}

func TestTwoDevicesConvergeThroughReload(testContext *testing.T) {
	s := newStack(testContext)
	ctx := context.Background()

	phone := s.newSession(testContext, nil)
	laptop := s.newSession(testContext, nil)
	require.NoError(testContext, phone.SignIn(ctx, diaryUserID))
	require.NoError(testContext, laptop.SignIn(ctx, diaryUserID))

	created, err := phone.AddMediaItem(ctx, media.MediaItem{Title: "Outer Wilds", Type: media.TypeGame, Status: media.StatusInProgress, Rating: ptr(9.0), HoursSpent: ptr(15.0)})
	require.NoError(testContext, err)
	require.False(testContext, library.IsPlaceholderID(created.ID))
	_, err = phone.AddReview(ctx, media.Review{Title: "Unforgettable", MediaID: created.ID})
	require.NoError(testContext, err)
	_, err = phone.UpdateSettings(ctx, media.SettingsPatch{Name: ptr("Ada")})
	require.NoError(testContext, err)

	require.Empty(testContext, laptop.MediaItems())
	require.NoError(testContext, laptop.Reload(ctx))

	items := laptop.MediaItems()
	require.Len(testContext, items, 1)
	require.Equal(testContext, created.ID, items[0].ID)
	require.Len(testContext, laptop.ReviewsFor(created.ID), 1)
	settings, ok := laptop.Settings()
	require.True(testContext, ok)
	require.Equal(testContext, "Ada", settings.Name)
	require.Equal(testContext, phone.Stats(), laptop.Stats())

	completed := media.StatusCompleted
	_, err = laptop.UpdateMediaItem(ctx, created.ID, media.MediaItemPatch{Status: &completed, Rating: media.None[float64]()})
	require.NoError(testContext, err)
	require.NoError(testContext, phone.Reload(ctx))
	reloaded, ok := phone.MediaItem(created.ID)
	require.True(testContext, ok)
	require.Equal(testContext, media.StatusCompleted, reloaded.Status)
	require.Nil(testContext, reloaded.Rating)
	require.Equal(testContext, 1, phone.Stats().Completed)
	require.NoError(testContext, phone.VerifyStats())
}

func TestDegradedSessionPushesRetainedWritesOnReload(testContext *testing.T) {
	s := newStack(testContext)
	ctx := context.Background()

	snapshots, err := offline.Open(offline.Config{InMemory: true})
	require.NoError(testContext, err)
	testContext.Cleanup(func() { _ = snapshots.Close() })

	s.down.Store(true)
	session := s.newSession(testContext, snapshots)
	err = session.SignIn(ctx, diaryUserID)
	require.ErrorIs(testContext, err, library.ErrPartialLoad)
	require.True(testContext, session.Status().Degraded)

	created, err := session.AddMediaItem(ctx, media.MediaItem{Title: "Pentiment", Type: media.TypeGame, Status: media.StatusPlanned})
	require.ErrorIs(testContext, err, library.ErrPersistence)
	var persistence *library.PersistenceError
	require.ErrorAs(testContext, err, &persistence)
	require.True(testContext, persistence.Retained)
	require.True(testContext, library.IsPlaceholderID(created.ID))
	require.Len(testContext, session.MediaItems(), 1)

	s.down.Store(false)
	require.NoError(testContext, session.Reload(ctx))

	status := session.Status()
	require.False(testContext, status.Degraded)
	require.Zero(testContext, status.Unsynced)
	items := session.MediaItems()
	require.Len(testContext, items, 1)
	require.False(testContext, library.IsPlaceholderID(items[0].ID))
	require.Equal(testContext, "Pentiment", items[0].Title)

	fresh := s.newSession(testContext, nil)
	require.NoError(testContext, fresh.SignIn(ctx, diaryUserID))
	require.Len(testContext, fresh.MediaItems(), 1)
}

func TestFailedDeleteIsRetriedOnReload(testContext *testing.T) {
	s := newStack(testContext)
	ctx := context.Background()

	session := s.newSession(testContext, nil)
	require.NoError(testContext, session.SignIn(ctx, diaryUserID))
	created, err := session.AddMilestone(ctx, media.Milestone{Title: "First 100%", Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(testContext, err)

	s.down.Store(true)
	err = session.DeleteMilestone(ctx, created.ID)
	require.ErrorIs(testContext, err, library.ErrPersistence)
	require.Empty(testContext, session.Milestones())
	require.Equal(testContext, 1, session.Status().PendingDeletes)

	s.down.Store(false)
	require.NoError(testContext, session.Reload(ctx))
	require.Empty(testContext, session.Milestones())
	require.Zero(testContext, session.Status().PendingDeletes)
}
