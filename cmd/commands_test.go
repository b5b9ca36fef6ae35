package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverfinder/internal/cover"
	"github.com/lepinkainen/coverfinder/internal/resolver"
	"github.com/lepinkainen/coverfinder/internal/testutil"
)

func guriGuraResolution() cover.Resolution {
	return cover.Resolution{
		Result: cover.ResolutionResult{
			Success:      true,
			ImageURL:     "https://covers.example/guri.jpg",
			Confidence:   95,
			Source:       "openbd",
			StrategyUsed: "isbn",
		},
		Rounds:        1,
		ProviderCalls: 2,
	}
}

func TestResolveCmd_Text(t *testing.T) {
	resetCmdState(t)
	m := &mockResolver{}
	m.On("Resolve", cover.BookQuery{Title: "ぐりとぐら", Author: "なかがわりえこ"}, cover.ModeBalanced).
		Return(guriGuraResolution(), nil)
	useResolver(t, m)
	buf := captureOutput(t)

	cmd := &ResolveCmd{Title: "ぐりとぐら", Author: "なかがわりえこ", Format: "text"}
	require.NoError(t, cmd.Run(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "Cover found")
	assert.Contains(t, out, "https://covers.example/guri.jpg")
	assert.Contains(t, out, "openbd")
	m.AssertExpectations(t)
}

func TestResolveCmd_JSONNotFound(t *testing.T) {
	resetCmdState(t)
	m := &mockResolver{}
	m.On("Resolve", mock.Anything, cover.ModeStrict).Return(cover.Resolution{
		Result: cover.ResolutionResult{Source: "none"},
		Rounds: 3,
	}, nil)
	useResolver(t, m)
	buf := captureOutput(t)

	cmd := &ResolveCmd{Title: "unknown", Mode: "strict", Format: "json"}
	require.NoError(t, cmd.Run(context.Background()))

	var got cover.ResolutionResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.False(t, got.Success)
	assert.Equal(t, "none", got.Source)
}

func TestResolveCmd_RejectsUnknownMode(t *testing.T) {
	resetCmdState(t)
	useResolver(t, &mockResolver{})

	err := (&ResolveCmd{Title: "x", Mode: "paranoid"}).Run(context.Background())
	assert.ErrorContains(t, err, "unknown accuracy mode")
}

func TestResolveCmd_DownloadsCover(t *testing.T) {
	resetCmdState(t)
	srv := testutil.NewIPv4TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	res := guriGuraResolution()
	res.Result.ImageURL = srv.URL + "/guri.jpg"

	m := &mockResolver{}
	m.On("Resolve", mock.Anything, cover.ModeBalanced).Return(res, nil)
	useResolver(t, m)
	captureOutput(t)
	env := testutil.NewTestEnv(t)

	cmd := &ResolveCmd{Title: "ぐりとぐら", ISBN: "978-4-8340-0082-5", Format: "text", DownloadDir: env.Path("covers")}
	require.NoError(t, cmd.Run(context.Background()))

	assert.Equal(t, "jpeg", env.ReadFileString("covers/9784834000825.jpg"))
}

func TestBatchCmd(t *testing.T) {
	resetCmdState(t)
	env := testutil.NewTestEnv(t)
	input := env.WriteFileString("books.csv", "title,author\nぐりとぐら,なかがわりえこ\nunknown,nobody\n")

	books := []cover.BookQuery{
		{Title: "ぐりとぐら", Author: "なかがわりえこ"},
		{Title: "unknown", Author: "nobody"},
	}
	m := &mockResolver{}
	m.On("ResolveBatch", books, cover.ModeBalanced, mock.MatchedBy(func(o resolver.BatchOptions) bool {
		return o.Concurrency == 2 && o.BatchSize == 20
	})).Return([]resolver.BatchResult{
		{Index: 0, Query: books[0], Result: guriGuraResolution().Result, FromCache: true},
		{Index: 1, Query: books[1], Result: cover.ResolutionResult{Source: "none"}},
	})
	useResolver(t, m)
	buf := captureOutput(t)

	cmd := &BatchCmd{
		Input:       input,
		Output:      env.Path("out", "results.json"),
		DB:          env.Path("results.db"),
		Concurrency: 2,
	}
	require.NoError(t, cmd.Run(context.Background()))
	m.AssertExpectations(t)

	assert.Contains(t, buf.String(), "1/2 covers found, 1 from cache, 0 errors")
	assert.True(t, env.FileExists("results.db"))

	var written []resolver.BatchResult
	require.NoError(t, json.Unmarshal([]byte(env.ReadFileString("out/results.json")), &written))
	require.Len(t, written, 2)
	assert.Equal(t, "openbd", written[0].Result.Source)
}

func TestBatchCmd_MissingTitleColumn(t *testing.T) {
	resetCmdState(t)
	useResolver(t, &mockResolver{})
	env := testutil.NewTestEnv(t)
	input := env.WriteFileString("books.csv", "name\nx\n")

	err := (&BatchCmd{Input: input}).Run(context.Background())
	assert.ErrorContains(t, err, "no title column")
}

func TestServeCmd_StopsOnCancel(t *testing.T) {
	resetCmdState(t)
	useResolver(t, &mockResolver{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := (&ServeCmd{Addr: "127.0.0.1:0"}).Run(ctx)
	assert.NoError(t, err)
}
