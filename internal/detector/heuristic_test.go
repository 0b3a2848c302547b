package detector

import (
	"testing"

	"github.com/mercadime/scraperd/internal/scraper"
)

func TestHeuristicShouldPromote(t *testing.T) {
	d := NewHeuristic(10, []string{".product-cell"}, []string{"__NEXT_DATA__"})

	tests := []struct {
		name string
		resp scraper.FetchResponse
		want bool
	}{
		{name: "small body triggers", resp: scraper.FetchResponse{Body: []byte("hi")}, want: true},
		{
			name: "js shell keyword triggers",
			resp: scraper.FetchResponse{Body: []byte("<html><script id=\"__NEXT_DATA__\"></script></html>")},
			want: true,
		},
		{
			name: "missing product selector triggers",
			resp: scraper.FetchResponse{Body: []byte("<html><body><div class=\"hero\">promo page</div></body></html>")},
			want: true,
		},
		{
			name: "product markup present",
			resp: scraper.FetchResponse{Body: []byte("<html><body><div class=\"product-cell\">Coca Cola 1.5L</div></body></html>")},
			want: false,
		},
		{
			name: "already headless never promotes",
			resp: scraper.FetchResponse{Body: []byte("hi"), UsedHeadless: true},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.ShouldPromote(tt.resp); got != tt.want {
				t.Fatalf("expected %v got %v", tt.want, got)
			}
		})
	}
}
