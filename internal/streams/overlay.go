package streams

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/models"
)

// Association entry field names inside subscriber documents.
const (
	AssocFieldSID              = "sid"
	AssocFieldFavorite         = "favorite"
	AssocFieldPrivate          = "private"
	AssocFieldRecent           = "recent"
	AssocFieldInterruptionTime = "interruption_time"
)

// ReadAssociation reads a user-stream association entry. The stream id is
// required; overlay flags default to zero when absent or mistyped.
func ReadAssociation(entry bson.Raw) (bson.ObjectID, models.UserOverlay, bool) {
	var overlay models.UserOverlay
	v, err := entry.LookupErr(AssocFieldSID)
	if err != nil {
		return bson.ObjectID{}, overlay, false
	}
	sid, ok := v.ObjectIDOK()
	if !ok {
		return bson.ObjectID{}, overlay, false
	}

	if v, err := entry.LookupErr(AssocFieldFavorite); err == nil {
		overlay.Favorite, _ = v.BooleanOK()
	}
	if v, err := entry.LookupErr(AssocFieldPrivate); err == nil {
		overlay.Private, _ = v.BooleanOK()
	}
	if v, err := entry.LookupErr(AssocFieldRecent); err == nil {
		overlay.Recent, _ = v.DateTimeOK()
	}
	if v, err := entry.LookupErr(AssocFieldInterruptionTime); err == nil {
		overlay.InterruptionTime, _ = v.Int32OK()
	}
	return sid, overlay, true
}
