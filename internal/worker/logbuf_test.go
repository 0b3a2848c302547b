package worker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mercadime/scraperd/internal/scraper"
)

func TestLogBufferKeepsOrder(t *testing.T) {
	t.Parallel()
	buf := NewLogBuffer(10)
	for i := 0; i < 3; i++ {
		buf.Append("mercadona", scraper.LogLine{Message: fmt.Sprintf("line-%d", i)})
	}

	lines := buf.Lines("mercadona")
	require.Len(t, lines, 3)
	require.Equal(t, "line-0", lines[0].Message)
	require.Equal(t, "line-2", lines[2].Message)
}

func TestLogBufferEvictsOldest(t *testing.T) {
	t.Parallel()
	buf := NewLogBuffer(4)
	for i := 0; i < 10; i++ {
		buf.Append("mercadona", scraper.LogLine{Message: fmt.Sprintf("line-%d", i)})
	}

	lines := buf.Lines("mercadona")
	require.Len(t, lines, 4)
	require.Equal(t, "line-6", lines[0].Message)
	require.Equal(t, "line-9", lines[3].Message)
}

func TestLogBufferIsolatesStores(t *testing.T) {
	t.Parallel()
	buf := NewLogBuffer(4)
	buf.Append("mercadona", scraper.LogLine{Message: "a"})
	buf.Append("carrefour", scraper.LogLine{Message: "b"})

	require.Len(t, buf.Lines("mercadona"), 1)
	require.Len(t, buf.Lines("carrefour"), 1)
	require.Empty(t, buf.Lines("dia"))

	buf.Clear("mercadona")
	require.Empty(t, buf.Lines("mercadona"))
	require.Len(t, buf.Lines("carrefour"), 1)
}
