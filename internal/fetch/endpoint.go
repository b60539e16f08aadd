package fetch

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/desertthunder/spotsync/internal/models"
)

// Strategy selects how an endpoint is paged.
type Strategy int

const (
	// Offset pages are addressed by limit and offset against a known total; all but the first run concurrently.
	Offset Strategy = iota
	// Cursor pages are followed one after another through the server supplied next link.
	Cursor
)

func (s Strategy) String() string {
	switch s {
	case Offset:
		return "offset"
	case Cursor:
		return "cursor"
	default:
		return "unknown"
	}
}

// Endpoint describes a listing endpoint and where its JSON envelope keeps items, the total and the next link.
// Paths use gjson syntax.
type Endpoint struct {
	Path      string
	Strategy  Strategy
	ItemsPath string
	TotalPath string // Offset only
	NextPath  string // Cursor only
}

// Endpoints maps each synchronized collection to its listing endpoint.
var Endpoints = map[models.ResourceType]Endpoint{
	models.ResourceTracks: {
		Path:      "/me/tracks",
		Strategy:  Offset,
		ItemsPath: "items",
		TotalPath: "total",
	},
	models.ResourcePlaylists: {
		Path:      "/me/playlists",
		Strategy:  Cursor,
		ItemsPath: "items",
		NextPath:  "next",
	},
	models.ResourceFollows: {
		Path:      "/me/following?type=artist",
		Strategy:  Cursor,
		ItemsPath: "artists.items",
		NextPath:  "artists.next",
	},
}

// EndpointFor returns the endpoint for rt.
func EndpointFor(rt models.ResourceType) (Endpoint, error) {
	ep, ok := Endpoints[rt]
	if !ok {
		return Endpoint{}, fmt.Errorf("no endpoint for resource type %q", rt)
	}
	return ep, nil
}

// pageURL sets limit (and offset when non-negative) on path, keeping its other query parameters.
func pageURL(path string, limit, offset int) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint path %q: %w", path, err)
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	if offset >= 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
