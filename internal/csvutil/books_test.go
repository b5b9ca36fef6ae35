package csvutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/coverfinder/internal/cover"
	"github.com/lepinkainen/coverfinder/internal/testutil"
)

var errBad = errors.New("bad record")

func TestLoadBooks(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFileString("books.csv", `title,author,isbn,publisher,year
ぐりとぐら,なかがわりえこ,978-4-8340-0082-5,福音館書店,1967
,nobody,,,
"Harry Potter and the Philosopher's Stone",J.K. Rowling,,,not-a-year
はらぺこあおむし,エリック・カール
`)

	books, err := LoadBooks(env.Path("books.csv"))
	require.NoError(t, err)

	assert.Equal(t, []cover.BookQuery{
		{Title: "ぐりとぐら", Author: "なかがわりえこ", ISBN: "978-4-8340-0082-5", Publisher: "福音館書店", Year: 1967},
		{Title: "はらぺこあおむし", Author: "エリック・カール"},
	}, books)
}

func TestLoadBooks_JapaneseHeader(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFileString("books.csv", "書名,著者,ジャンル\n星の王子さま,サン=テグジュペリ,児童書\n")

	books, err := LoadBooks(env.Path("books.csv"))
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "星の王子さま", books[0].Title)
	assert.Equal(t, "サン=テグジュペリ", books[0].Author)
	assert.Equal(t, "児童書", books[0].Genre)
}

func TestLoadBooks_NoTitleColumn(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFileString("books.csv", "name,writer\nx,y\n")

	_, err := LoadBooks(env.Path("books.csv"))
	assert.ErrorIs(t, err, ErrNoTitleColumn)
}
