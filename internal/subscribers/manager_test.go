package subscribers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestObjectIDRoundTrip(t *testing.T) {
	for range 16 {
		id := bson.NewObjectID()
		got, err := parseStreamID(id.Hex())
		require.NoError(t, err)
		assert.Equal(t, id, got)

		got, err = parseUserID(id.Hex())
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "xyz", "0123456789abcdef0123456", "0123456789abcdef012345678", "zz23456789abcdef01234567"} {
		_, err := parseStreamID(s)
		assert.ErrorIs(t, err, ErrInvalidStreamID, s)
		_, err = parseUserID(s)
		assert.ErrorIs(t, err, ErrInvalidUserID, s)
	}
}

func TestServerInfo(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "http://epg.example.com/epg.xml", f.m.ServerInfo().EpgURL)
}
