package streams

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/models"
)

// DecodeOutputs decodes an output array. Entries missing any of id, uri,
// http_root or hls_type (or holding the wrong type) are dropped. It reports
// false only when v is not a well-formed array.
func DecodeOutputs(v bson.RawValue) ([]models.OutputURI, bool) {
	arr, ok := v.ArrayOK()
	if !ok {
		return nil, false
	}
	values, err := arr.Values()
	if err != nil {
		return nil, false
	}
	urls := make([]models.OutputURI, 0, len(values))
	for _, ev := range values {
		doc, ok := ev.DocumentOK()
		if !ok {
			continue
		}
		if u, ok := decodeOutput(doc); ok {
			urls = append(urls, u)
		}
	}
	return urls, true
}

func decodeOutput(doc bson.Raw) (models.OutputURI, bool) {
	var u models.OutputURI
	id, err := doc.LookupErr(OutputFieldID)
	if err != nil {
		return u, false
	}
	uri, err := doc.LookupErr(OutputFieldURI)
	if err != nil {
		return u, false
	}
	root, err := doc.LookupErr(OutputFieldHTTPRoot)
	if err != nil {
		return u, false
	}
	hls, err := doc.LookupErr(OutputFieldHLSType)
	if err != nil {
		return u, false
	}

	var ok bool
	if u.ID, ok = id.Int32OK(); !ok {
		return u, false
	}
	if u.URI, ok = uri.StringValueOK(); !ok {
		return u, false
	}
	if u.HTTPRoot, ok = root.StringValueOK(); !ok {
		return u, false
	}
	if u.HLSType, ok = hls.Int32OK(); !ok {
		return u, false
	}
	return u, true
}

// ReadOutputs decodes the output array of a stream document.
func ReadOutputs(doc bson.Raw) ([]models.OutputURI, bool) {
	v, err := doc.LookupErr(FieldOutput)
	if err != nil {
		return nil, false
	}
	return DecodeOutputs(v)
}

// FindOutput returns the output with the given id.
func FindOutput(urls []models.OutputURI, id int32) (models.OutputURI, bool) {
	for _, u := range urls {
		if u.ID == id {
			return u, true
		}
	}
	return models.OutputURI{}, false
}
