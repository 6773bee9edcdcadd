package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adloop/signage-agent-go/pkg/logger"
)

func init() {
	// Initialize logger to prevent nil pointer errors
	_ = logger.Init("error", "")
}

func TestParseManifestEnveloped(t *testing.T) {
	t.Parallel()

	doc := `{
	  "data": [
	    {
	      "id": 7,
	      "name": "Morning Loop",
	      "beginTime": "08:00:00",
	      "endTime": "12:30:00",
	      "order": 2,
	      "assets": [
	        {
	          "media_assets_id": {
	            "title": "Coffee Promo",
	            "fileUrl": "https://cdn.example.com/assets/",
	            "file": {"id": "101", "filename_disk": "coffee.mp4"}
	          }
	        },
	        {
	          "media_assets_id": {
	            "title": "Bakery Promo",
	            "fileUrl": "https://cdn.example.com/assets",
	            "file": {"id": 102, "filename_disk": "/bakery.mp4"}
	          }
	        }
	      ]
	    },
	    {
	      "id": "9",
	      "name": "Night Loop",
	      "beginTime": "22:00:00",
	      "endTime": "06:00:00",
	      "active": false,
	      "assets": []
	    }
	  ]
	}`

	playlists, videos, err := ParseManifest([]byte(doc))
	require.NoError(t, err)

	require.Len(t, playlists, 2)

	morning := playlists[0]
	assert.Equal(t, "7", morning.ID)
	assert.Equal(t, "Morning Loop", morning.Name)
	assert.Equal(t, "08:00", morning.Start.String())
	assert.Equal(t, "12:30", morning.End.String())
	assert.True(t, morning.Active)
	assert.Equal(t, 2, morning.Order)
	assert.Equal(t, []string{"101", "102"}, morning.VideoIDs)

	night := playlists[1]
	assert.Equal(t, "9", night.ID)
	assert.False(t, night.Active)
	assert.Empty(t, night.VideoIDs)

	require.Len(t, videos, 2)
	assert.Equal(t, "101", videos[0].ID)
	assert.Equal(t, "Coffee Promo", videos[0].Name)
	assert.Equal(t, "https://cdn.example.com/assets/coffee.mp4", videos[0].RemoteURL)
	assert.Equal(t, 0, videos[0].Order)
	assert.False(t, videos[0].Downloaded)

	assert.Equal(t, "102", videos[1].ID)
	assert.Equal(t, "https://cdn.example.com/assets/bakery.mp4", videos[1].RemoteURL)
	assert.Equal(t, 1, videos[1].Order)
}

func TestParseManifestFlat(t *testing.T) {
	t.Parallel()

	doc := `[
	  {"id": 3, "startTime": "09:00", "endTime": "17:00", "videoIds": [101, "102"]},
	  {"id": 4, "startTime": "17:00", "endTime": "23:00", "videoIds": []}
	]`

	playlists, videos, err := ParseManifest([]byte(doc))
	require.NoError(t, err)

	require.Len(t, playlists, 2)
	assert.Equal(t, "3", playlists[0].ID)
	assert.Equal(t, "09:00", playlists[0].Start.String())
	assert.Equal(t, []string{"101", "102"}, playlists[0].VideoIDs)
	assert.True(t, playlists[0].Active)
	assert.Empty(t, playlists[1].VideoIDs)

	// The flat schema carries no asset descriptors, so no video records.
	assert.Empty(t, videos)
}

func TestParseManifestSharedVideoAcrossPlaylists(t *testing.T) {
	t.Parallel()

	doc := `{"data": [
	  {
	    "id": 1, "beginTime": "08:00:00", "endTime": "12:00:00",
	    "assets": [{"media_assets_id": {"title": "Spot", "fileUrl": "http://cdn/x", "file": {"id": "55", "filename_disk": "spot.mp4"}}}]
	  },
	  {
	    "id": 2, "beginTime": "12:00:00", "endTime": "18:00:00",
	    "assets": [{"media_assets_id": {"title": "Spot", "fileUrl": "http://cdn/x", "file": {"id": "55", "filename_disk": "spot.mp4"}}}]
	  }
	]}`

	playlists, videos, err := ParseManifest([]byte(doc))
	require.NoError(t, err)

	require.Len(t, playlists, 2)
	assert.Equal(t, []string{"55"}, playlists[0].VideoIDs)
	assert.Equal(t, []string{"55"}, playlists[1].VideoIDs)

	// One record per video id even when referenced twice.
	require.Len(t, videos, 1)
	assert.Equal(t, "55", videos[0].ID)
}

func TestParseManifestSkipsMalformedEntries(t *testing.T) {
	t.Parallel()

	doc := `{"data": [
	  {"beginTime": "08:00:00", "endTime": "12:00:00"},
	  {"id": 2, "beginTime": "not a time", "endTime": "12:00:00"},
	  {"id": 3, "beginTime": "08:00:00", "endTime": ""},
	  {
	    "id": 4, "beginTime": "10:00:00", "endTime": "20:00:00",
	    "assets": [
	      {"media_assets_id": null},
	      {"media_assets_id": {"title": "No File", "fileUrl": "http://cdn/x"}},
	      {"media_assets_id": {"title": "No Disk Name", "fileUrl": "http://cdn/x", "file": {"id": "61", "filename_disk": ""}}},
	      {"media_assets_id": {"title": "Good", "fileUrl": "http://cdn/x", "file": {"id": "62", "filename_disk": "good.mp4"}}}
	    ]
	  }
	]}`

	playlists, videos, err := ParseManifest([]byte(doc))
	require.NoError(t, err)

	// Only the healthy playlist survives, with only its healthy asset.
	require.Len(t, playlists, 1)
	assert.Equal(t, "4", playlists[0].ID)
	assert.Equal(t, []string{"62"}, playlists[0].VideoIDs)

	require.Len(t, videos, 1)
	assert.Equal(t, "62", videos[0].ID)
	assert.Equal(t, "http://cdn/x/good.mp4", videos[0].RemoteURL)
}

func TestParseManifestFormatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "empty document",
			doc:  ``,
		},
		{
			name: "not json",
			doc:  `<html>502</html>`,
		},
		{
			name: "top level string",
			doc:  `"hello"`,
		},
		{
			name: "object without data",
			doc:  `{"items": []}`,
		},
		{
			name: "data not an array",
			doc:  `{"data": {"id": 1}}`,
		},
		{
			name: "array of scalars",
			doc:  `[1, 2, 3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := ParseManifest([]byte(tt.doc))
			require.Error(t, err)

			var formatErr *FormatError
			require.ErrorAs(t, err, &formatErr)
			assert.Equal(t, "manifest", formatErr.Doc)
		})
	}
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		file string
		want string
	}{
		{
			name: "no slashes",
			base: "http://cdn/assets",
			file: "a.mp4",
			want: "http://cdn/assets/a.mp4",
		},
		{
			name: "trailing slash on base",
			base: "http://cdn/assets/",
			file: "a.mp4",
			want: "http://cdn/assets/a.mp4",
		},
		{
			name: "leading slash on file",
			base: "http://cdn/assets",
			file: "/a.mp4",
			want: "http://cdn/assets/a.mp4",
		},
		{
			name: "both slashes",
			base: "http://cdn/assets/",
			file: "/a.mp4",
			want: "http://cdn/assets/a.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, joinURL(tt.base, tt.file))
		})
	}
}

func TestFormatErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &FormatError{Doc: "manifest", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "manifest")
}
