package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/services"
	"github.com/desertthunder/spotsync/internal/shared"
)

// ownerURLPrefix is joined with the local username to form external_owner_url.
const ownerURLPrefix = "https://open.spotify.com/user/"

// Owner identifies the local user a batch of records is mapped for.
type Owner struct {
	UserID   string
	Username string
}

// URL returns the public profile link recorded as external_owner_url.
func (o Owner) URL() string { return ownerURLPrefix + o.Username }

// Mapper converts one raw external item into a record.
//
// A nil record with a nil error means the item carried no external URL and is skipped.
type Mapper func(raw json.RawMessage, owner Owner) (*models.SyncedRecord, error)

// Mappers holds the mapper for each resource type.
var Mappers = map[models.ResourceType]Mapper{
	models.ResourceTracks:    MapTrack,
	models.ResourcePlaylists: MapPlaylist,
	models.ResourceFollows:   MapArtist,
}

// MapAll applies the mapper for rt to every item. It returns the records and the number of skipped items.
func MapAll(rt models.ResourceType, items []json.RawMessage, owner Owner) ([]*models.SyncedRecord, int, error) {
	mapper, ok := Mappers[rt]
	if !ok {
		return nil, 0, fmt.Errorf("%w: no mapper for resource type %q", shared.ErrInvalidInput, rt)
	}

	records := make([]*models.SyncedRecord, 0, len(items))
	skipped := 0
	for _, raw := range items {
		rec, err := mapper(raw, owner)
		if err != nil {
			return nil, 0, err
		}
		if rec == nil {
			skipped++
			continue
		}
		rec.ResourceType = rt
		records = append(records, rec)
	}
	return records, skipped, nil
}

// MapTrack maps a saved track. The record is dated by added_at and illustrated by the album art.
func MapTrack(raw json.RawMessage, owner Owner) (*models.SyncedRecord, error) {
	var saved services.SpotifySavedTrack
	if err := decodeItem(raw, &saved); err != nil {
		return nil, err
	}

	url := saved.Track.ExternalURLs.Spotify
	if url == "" {
		return nil, nil
	}

	rec := newRecord(owner, models.ResourceTracks, "track_"+saved.Track.ID, url, saved.Track.Name, saved.Track.Album.Images)
	if t, err := time.Parse(time.RFC3339, saved.AddedAt); err == nil {
		t = t.UTC()
		rec.OccurredAt = &t
	}
	return rec, nil
}

// MapPlaylist maps a simplified playlist, keyed by its API href.
func MapPlaylist(raw json.RawMessage, owner Owner) (*models.SyncedRecord, error) {
	var pl services.SpotifySimplePlaylist
	if err := decodeItem(raw, &pl); err != nil {
		return nil, err
	}
	if pl.Href == "" {
		return nil, nil
	}
	return newRecord(owner, models.ResourcePlaylists, "playlist_"+pl.ID, pl.Href, pl.Name, pl.Images), nil
}

// MapArtist maps a followed artist, keyed by its API href.
func MapArtist(raw json.RawMessage, owner Owner) (*models.SyncedRecord, error) {
	var artist services.SpotifyArtist
	if err := decodeItem(raw, &artist); err != nil {
		return nil, err
	}
	if artist.Href == "" {
		return nil, nil
	}
	return newRecord(owner, models.ResourceFollows, "artist_"+artist.ID, artist.Href, artist.Name, artist.Images), nil
}

func decodeItem(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return shared.NewExternalAPIError(0, "malformed item", err)
	}
	return nil
}

func newRecord(owner Owner, rt models.ResourceType, externalID, url, title string, images []services.SpotifyImage) *models.SyncedRecord {
	rec := &models.SyncedRecord{
		UserID:                owner.UserID,
		Platform:              models.PlatformSpotify,
		ResourceType:          rt,
		ExternalID:            externalID,
		ExternalURL:           url,
		ExternalOwnerUsername: owner.Username,
		ExternalOwnerURL:      owner.URL(),
		Media:                 models.Media{Images: mapImages(images)},
	}
	if title != "" {
		rec.Title = &title
	}
	return rec
}

// mapImages returns nil for an empty list so the media images key is omitted.
func mapImages(images []services.SpotifyImage) []models.Image {
	if len(images) == 0 {
		return nil
	}

	out := make([]models.Image, 0, len(images))
	for _, img := range images {
		if img.URL == "" {
			continue
		}
		image := models.Image{URL: img.URL}
		if img.Width != nil {
			image.Width = *img.Width
		}
		if img.Height != nil {
			image.Height = *img.Height
		}
		out = append(out, image)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
