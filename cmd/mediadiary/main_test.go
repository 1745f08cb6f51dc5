package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/auth"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/documents"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/server"
)

type cliEnv struct {
	api     *httptest.Server
	token   string
	offline string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:cli_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&documents.Document{}, &documents.DocumentChange{}))
	service, err := documents.NewService(documents.ServiceConfig{Database: db, IDProvider: documents.NewUUIDProvider()})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("cli-secret"),
		Issuer:        "mediadiary",
		Audience:      "mediadiary-api",
		TokenTTL:      time.Hour,
	})
	require.NoError(t, err)
	handler, err := server.NewHTTPHandler(server.Dependencies{TokenValidator: issuer, Documents: service})
	require.NoError(t, err)
	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)
	token, _, err := issuer.IssueToken("user-1")
	require.NoError(t, err)
	return &cliEnv{api: api, token: token, offline: t.TempDir()}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string) {
	t.Helper()
	stdout, stderr, err := e.exec(args...)
	require.NoError(t, err, "stderr: %s", stderr)
	return stdout, stderr
}

func (e *cliEnv) exec(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	root := newRootCommand(newCLI(&stdout))
	root.SetErr(&stderr)
	root.SetArgs(append([]string{
		"--api-url", e.api.URL,
		"--token", e.token,
		"--user", "user-1",
		"--offline-path", e.offline,
		"--log-level", "error",
	}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func addedID(t *testing.T, output string) string {
	t.Helper()
	trimmed := strings.TrimSpace(output)
	require.True(t, strings.HasPrefix(trimmed, "added "), "unexpected output %q", output)
	return strings.TrimPrefix(trimmed, "added ")
}

func row(output, first string) []string {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == first {
			return fields
		}
	}
	return nil
}

func TestCLIStatsFollowMutations(t *testing.T) {
	env := newCLIEnv(t)

	env.run(t, "add", "--title", "Hollow", "--type", "game", "--status", "in-progress", "--rating", "7", "--hours", "5")
	out, _ := env.run(t, "add", "--title", "Outer", "--type", "game", "--status", "in-progress", "--rating", "9", "--hours", "15")
	outerID := addedID(t, out)
	env.run(t, "add", "--title", "Dune", "--type", "book", "--hours", "0", "--pages", "400", "--page", "100")

	stats, _ := env.run(t, "stats")
	require.Equal(t, []string{"game", "2", "20", "8", "0"}, row(stats, "game"))
	require.Equal(t, []string{"total", "3", "20", "8", "0"}, row(stats, "total"))
	require.Contains(t, stats, "1. Outer (9)")

	env.run(t, "update", outerID, "--status", "completed")

	stats, _ = env.run(t, "stats")
	require.Equal(t, []string{"game", "2", "20", "8", "1"}, row(stats, "game"))
	require.Equal(t, []string{"book", "1", "0", "0", "0"}, row(stats, "book"))

	listed, _ := env.run(t, "list", "--sort", "rating")
	lines := strings.Split(strings.TrimSpace(listed), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, outerID, strings.Fields(lines[1])[0])
	require.Contains(t, listed, "25%")

	books, _ := env.run(t, "list", "--type", "book")
	require.Len(t, strings.Split(strings.TrimSpace(books), "\n"), 2)
}

func TestCLISettingsReviewsAndMilestones(t *testing.T) {
	env := newCLIEnv(t)

	out, _ := env.run(t, "add", "--title", "Celeste", "--type", "game")
	itemID := addedID(t, out)

	env.run(t, "settings", "set", "--name", "Ada", "--sort", "title")
	settings, _ := env.run(t, "settings")
	require.Equal(t, []string{"name", "Ada"}, row(settings, "name"))

	out, _ = env.run(t, "review", "add", "--title", "Tight platforming", "--media", itemID, "--rating", "9.5", "--favorite")
	reviewID := addedID(t, out)
	reviews, _ := env.run(t, "review", "list", "--media", itemID)
	require.Equal(t, reviewID, row(reviews, reviewID)[0])

	out, _ = env.run(t, "milestone", "add", "--title", "Summit", "--date", "2024-03-01", "--media", itemID)
	milestoneID := addedID(t, out)
	milestones, _ := env.run(t, "milestone", "list")
	require.Equal(t, "2024-03-01", row(milestones, milestoneID)[1])

	env.run(t, "delete", reviewID, "--collection", "reviews")
	reviews, _ = env.run(t, "review", "list")
	require.Nil(t, row(reviews, reviewID))

	stats, _ := env.run(t, "stats")
	require.Contains(t, stats, "reviews: 0")
}

func TestCLIFallsBackToOfflineSnapshot(t *testing.T) {
	env := newCLIEnv(t)
	env.run(t, "add", "--title", "Arrival", "--type", "movie", "--status", "completed", "--rating", "8")

	env.api.Close()

	stats, stderr := env.run(t, "stats")
	require.Contains(t, stderr, "offline snapshot")
	require.Equal(t, []string{"movie", "1", "0", "8", "1"}, row(stats, "movie"))
}

func TestCLIRejectsInvalidInput(t *testing.T) {
	env := newCLIEnv(t)

	_, _, err := env.exec("add", "--title", "Nope", "--type", "podcast")
	require.Error(t, err)

	_, _, err = env.exec("update", "missing-id", "--title", "x")
	require.Error(t, err)

	_, _, err = env.exec("update", "missing-id", "--clear", "title")
	require.ErrorContains(t, err, "cannot clear")

	_, _, err = env.exec("milestone", "add", "--title", "Bad", "--date", "03/01/2024")
	require.ErrorContains(t, err, "YYYY-MM-DD")
}
