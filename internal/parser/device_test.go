package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDevice(t *testing.T) {
	t.Parallel()

	t.Run("enveloped document", func(t *testing.T) {
		t.Parallel()

		doc := `{"data": {"id": 12, "name": "Lobby Display", "location": "HQ lobby",
			"active": true, "latitude": 52.52, "longitude": 13.405}}`

		device, err := ParseDevice([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "12", device.ID)
		assert.Equal(t, "Lobby Display", device.Name)
		assert.Equal(t, "HQ lobby", device.Location)
		assert.True(t, device.Active)
		assert.InDelta(t, 52.52, device.Latitude, 0.001)
		assert.InDelta(t, 13.405, device.Longitude, 0.001)
	})

	t.Run("bare document", func(t *testing.T) {
		t.Parallel()

		doc := `{"id": "dev-7", "name": "Window", "active": false}`

		device, err := ParseDevice([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "dev-7", device.ID)
		assert.False(t, device.Active)
	})

	t.Run("format errors", func(t *testing.T) {
		t.Parallel()

		for _, doc := range []string{``, `[]`, `"x"`, `{"data": {"name": "no id"}}`} {
			_, err := ParseDevice([]byte(doc))

			var formatErr *FormatError
			require.ErrorAs(t, err, &formatErr, "doc %q", doc)
			assert.Equal(t, "device", formatErr.Doc)
		}
	})
}
