// Package trip contains the upstream trip/listing record and the registry of
// fields it can be sorted by.
package trip

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/fatih/structs"
)

// Party identifies the host or operator of a trip.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record is one trip as served by the upstream.
//
// Decoding keeps the exact bytes it was built from, and encoding writes them
// back unchanged, so fields the proxy does not model survive the round trip.
// A modelled field whose upstream value does not fit its Go type is left at
// its zero value; the record itself is still accepted.
type Record struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Tags   []string `json:"tags"`

	TravelersConfirmed int `json:"travelersConfirmed"`
	TravelersPending   int `json:"travelersPending"`
	TravelersCancelled int `json:"travelersCancelled"`
	MinTravelers       int `json:"minTravelers"`
	MaxTravelers       int `json:"maxTravelers"`

	Price    float64 `json:"price"`
	Earnings float64 `json:"earnings"`

	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`

	Host     Party `json:"host"`
	Operator Party `json:"operator"`

	raw json.RawMessage
}

// record is Record without its JSON methods.
type record Record

// UnmarshalJSON keeps a private copy of data and decodes the modelled fields
// it can. data must be a JSON object or null.
func (r *Record) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	var out Record
	decodeFields(structs.New(&out).Fields(), obj)
	out.raw = bytes.Clone(data)
	*r = out
	return nil
}

// decodeFields fills each field from obj by its JSON name, skipping values
// that do not decode into the field's type.
func decodeFields(fields []*structs.Field, obj map[string]json.RawMessage) {
	for _, f := range fields {
		name := jsonName(f)
		v, ok := obj[name]
		if name == "" || !ok {
			continue
		}
		if f.Kind() == reflect.Struct {
			var nested map[string]json.RawMessage
			if json.Unmarshal(v, &nested) == nil {
				decodeFields(f.Fields(), nested)
			}
			continue
		}
		dst := reflect.New(reflect.TypeOf(f.Value()))
		if json.Unmarshal(v, dst.Interface()) == nil {
			_ = f.Set(dst.Elem().Interface())
		}
	}
}

// MarshalJSON returns the original upstream bytes when present.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	return json.Marshal(record(r))
}
