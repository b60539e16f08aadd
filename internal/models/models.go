// package models defines the data model for the sync engine
package models

import (
	"fmt"
	"time"
)

// PlatformSpotify is the only platform credentials and records are kept for.
const PlatformSpotify = "spotify"

// ResourceType names one of the synchronized external collections.
type ResourceType string

const (
	ResourceTracks    ResourceType = "tracks"
	ResourcePlaylists ResourceType = "playlists"
	ResourceFollows   ResourceType = "follows"
)

// ResourceTypes lists every synchronized collection in sync order.
var ResourceTypes = []ResourceType{ResourceTracks, ResourcePlaylists, ResourceFollows}

// ParseResourceType validates s as a [ResourceType].
func ParseResourceType(s string) (ResourceType, error) {
	for _, rt := range ResourceTypes {
		if string(rt) == s {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q (want tracks, playlists or follows)", s)
}

func (r ResourceType) String() string { return string(r) }

// User is a local account that owns credentials and synced records.
type User struct {
	id        string
	username  string
	email     string
	createdAt time.Time
	updatedAt time.Time
}

// NewUser creates a [User] with creation timestamps set to now.
func NewUser(username, email string) *User {
	now := time.Now().UTC()
	return &User{username: username, email: email, createdAt: now, updatedAt: now}
}

func (u *User) ID() string           { return u.id }
func (u *User) Username() string     { return u.username }
func (u *User) Email() string        { return u.email }
func (u *User) CreatedAt() time.Time { return u.createdAt }
func (u *User) UpdatedAt() time.Time { return u.updatedAt }

func (u *User) SetID(id string)          { u.id = id }
func (u *User) SetEmail(email string)    { u.email = email }
func (u *User) SetCreatedAt(t time.Time) { u.createdAt = t }
func (u *User) SetUpdatedAt(t time.Time) { u.updatedAt = t }

// Validate requires a username.
func (u *User) Validate() error {
	if u.username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

// Credential is the encrypted authorization state for one (user, platform) pair.
//
// A nil EncryptedRefreshToken means the user must re-authorize interactively.
type Credential struct {
	ID                    string
	UserID                string
	Platform              string
	EncryptedAccessToken  string
	EncryptedRefreshToken *string
	PlatformUserID        *string
	ExpiresAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasRefreshToken reports whether a non-empty refresh token is stored.
func (c *Credential) HasRefreshToken() bool {
	return c.EncryptedRefreshToken != nil && *c.EncryptedRefreshToken != ""
}

// DefaultExpiresIn is used when a token response omits expires_in.
const DefaultExpiresIn = 3600 * time.Second

// TokenBundle carries plaintext tokens returned by the authorization server.
//
// An empty RefreshToken leaves the stored refresh token in place.
type TokenBundle struct {
	AccessToken    string
	RefreshToken   string
	ExpiresIn      time.Duration
	PlatformUserID string
}

// ExpiresAt resolves the absolute expiry relative to now, applying [DefaultExpiresIn].
func (t TokenBundle) ExpiresAt(now time.Time) time.Time {
	in := t.ExpiresIn
	if in <= 0 {
		in = DefaultExpiresIn
	}
	return now.Add(in)
}

// Video is an embedded video reference on a synced record.
type Video struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Image is an embedded image on a synced record.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Link is an outbound link on a synced record.
type Link struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Media groups the structured sub-lists of a synced record. Nil lists mean absent.
type Media struct {
	Videos []Video `json:"videos,omitempty"`
	Images []Image `json:"images,omitempty"`
	Links  []Link  `json:"links,omitempty"`
}

// SyncedRecord is one external item stored in a reconciliation partition.
//
// Records are created and deleted by reconciliation only and never field-updated.
type SyncedRecord struct {
	ID                    string
	UserID                string
	Platform              string
	ResourceType          ResourceType
	ExternalID            string
	ExternalURL           string
	ExternalOwnerUsername string
	ExternalOwnerURL      string
	OccurredAt            *time.Time
	Title                 *string
	BodyText              *string
	Media                 Media
	CreatedAt             time.Time
}

// Partition identifies the set of records owned by a single reconcile call.
type Partition struct {
	UserID       string
	Platform     string
	ResourceType ResourceType
}

func (p Partition) String() string {
	return fmt.Sprintf("%s/%s/%s", p.UserID, p.Platform, p.ResourceType)
}

// JobKind distinguishes token refresh work from resource sync work.
type JobKind string

const (
	JobRefresh JobKind = "refresh"
	JobSync    JobKind = "sync"
)

// JobStatus is a state in the job lifecycle:
//
//	pending -> running -> succeeded
//	                   -> retrying -> running
//	                   -> failed
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobRetrying  JobStatus = "retrying"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool { return s == JobSucceeded || s == JobFailed }

// Job is a durable unit of background work.
type Job struct {
	ID           string
	Kind         JobKind
	UserID       string
	ResourceType ResourceType // empty for refresh jobs
	Status       JobStatus
	Attempts     int
	MaxAttempts  int
	LastError    string
	RunAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Label is a short human readable description such as "sync:tracks".
func (j *Job) Label() string {
	if j.ResourceType == "" {
		return string(j.Kind)
	}
	return fmt.Sprintf("%s:%s", j.Kind, j.ResourceType)
}
