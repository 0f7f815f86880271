package pipeline_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/tripproxy/internal/domain/pipeline"
	"github.com/okian/tripproxy/internal/domain/trip"
	. "github.com/smartystreets/goconvey/convey"
)

func ids(records []trip.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func numbered(n int) []trip.Record {
	out := make([]trip.Record, n)
	for i := range out {
		out[i] = trip.Record{ID: string(rune('a' + i)), Price: float64(i)}
	}
	return out
}

func TestParseOrder(t *testing.T) {
	Convey("Given sort order strings", t, func() {
		Convey("Then asc and desc variants should parse", func() {
			for in, want := range map[string]pipeline.Order{
				"asc": pipeline.Ascending, "ASC": pipeline.Ascending, "ascending": pipeline.Ascending,
				"desc": pipeline.Descending, " Desc ": pipeline.Descending, "descending": pipeline.Descending,
			} {
				got, err := pipeline.ParseOrder(in)
				So(err, ShouldBeNil)
				So(got, ShouldEqual, want)
			}
		})

		Convey("Then anything else should be rejected", func() {
			_, err := pipeline.ParseOrder("sideways")
			So(errors.Is(err, pipeline.ErrInvalidSortOrder), ShouldBeTrue)
		})

		Convey("Then orders should print their query form", func() {
			So(pipeline.Ascending.String(), ShouldEqual, "asc")
			So(pipeline.Descending.String(), ShouldEqual, "desc")
		})
	})
}

func TestSort(t *testing.T) {
	Convey("Given records with string ids", t, func() {
		records := []trip.Record{{ID: "b"}, {ID: "a"}, {ID: "c"}}

		Convey("When sorting ascending by id", func() {
			out, err := pipeline.Sort(records, "id", pipeline.Ascending)

			Convey("Then ids should be in lexical order", func() {
				So(err, ShouldBeNil)
				So(ids(out), ShouldResemble, []string{"a", "b", "c"})
			})

			Convey("And the input should keep its order", func() {
				So(ids(records), ShouldResemble, []string{"b", "a", "c"})
			})
		})

		Convey("When sorting descending by id", func() {
			out, err := pipeline.Sort(records, "id", pipeline.Descending)

			Convey("Then ids should be in reverse lexical order", func() {
				So(err, ShouldBeNil)
				So(ids(out), ShouldResemble, []string{"c", "b", "a"})
			})
		})
	})

	Convey("Given records with random prices", t, func() {
		rng := rand.New(rand.NewSource(7))
		records := make([]trip.Record, 200)
		for i := range records {
			records[i] = trip.Record{ID: string(rune(i)), Price: math.Round(rng.Float64()*1000) / 10}
		}

		Convey("When sorting ascending by a numeric key", func() {
			out, err := pipeline.Sort(records, "price", pipeline.Ascending)
			So(err, ShouldBeNil)

			Convey("Then prices should be non-decreasing", func() {
				for i := 1; i < len(out); i++ {
					So(out[i-1].Price, ShouldBeLessThanOrEqualTo, out[i].Price)
				}
			})
		})

		Convey("When sorting descending by a numeric key", func() {
			out, err := pipeline.Sort(records, "price", pipeline.Descending)
			So(err, ShouldBeNil)

			Convey("Then prices should be non-increasing", func() {
				for i := 1; i < len(out); i++ {
					So(out[i-1].Price, ShouldBeGreaterThanOrEqualTo, out[i].Price)
				}
			})
		})
	})

	Convey("Given numbers that sort differently as strings", t, func() {
		records := []trip.Record{{ID: "ten", MaxTravelers: 10}, {ID: "nine", MaxTravelers: 9}, {ID: "hundred", MaxTravelers: 100}}

		Convey("Then integer fields should sort numerically", func() {
			out, err := pipeline.Sort(records, "maxTravelers", pipeline.Ascending)
			So(err, ShouldBeNil)
			So(ids(out), ShouldResemble, []string{"nine", "ten", "hundred"})
		})
	})

	Convey("Given records with equal keys", t, func() {
		records := []trip.Record{{ID: "1", Status: "open"}, {ID: "2", Status: "closed"}, {ID: "3", Status: "open"}}

		Convey("Then ties should keep their input order", func() {
			out, err := pipeline.Sort(records, "status", pipeline.Ascending)
			So(err, ShouldBeNil)
			So(ids(out), ShouldResemble, []string{"2", "1", "3"})
		})
	})

	Convey("Given records with nested parties", t, func() {
		records := []trip.Record{
			{ID: "1", Host: trip.Party{Name: "Zoe"}},
			{ID: "2", Host: trip.Party{Name: "Abe"}},
		}

		Convey("Then a dotted key should sort by the nested field", func() {
			out, err := pipeline.Sort(records, "host.name", pipeline.Ascending)
			So(err, ShouldBeNil)
			So(ids(out), ShouldResemble, []string{"2", "1"})
		})
	})

	Convey("Given a key that does not exist on the record", t, func() {
		_, err := pipeline.Sort(numbered(3), "rating", pipeline.Ascending)

		Convey("Then sorting should fail with an invalid sort key", func() {
			So(errors.Is(err, pipeline.ErrInvalidSortKey), ShouldBeTrue)
			So(errors.Is(err, trip.ErrUnknownKey), ShouldBeTrue)
		})
	})

	Convey("Given a key that exists but cannot be ordered", t, func() {
		_, err := pipeline.Sort(numbered(3), "tags", pipeline.Ascending)

		Convey("Then sorting should fail with an invalid sort key", func() {
			So(errors.Is(err, pipeline.ErrInvalidSortKey), ShouldBeTrue)
			So(errors.Is(err, trip.ErrIncomparableKey), ShouldBeTrue)
		})
	})

	Convey("Given an empty list", t, func() {
		out, err := pipeline.Sort(nil, "id", pipeline.Ascending)

		Convey("Then the result should be empty", func() {
			So(err, ShouldBeNil)
			So(out, ShouldNotBeNil)
			So(out, ShouldBeEmpty)
		})
	})
}

func TestPaginate(t *testing.T) {
	Convey("Given a three element list", t, func() {
		records := numbered(3)

		Convey("When asking for page 2 with limit 2", func() {
			out, err := pipeline.Paginate(records, 2, 2)

			Convey("Then only the third element should be returned", func() {
				So(err, ShouldBeNil)
				So(ids(out), ShouldResemble, []string{"c"})
			})
		})

		Convey("When asking for a page past the end", func() {
			out, err := pipeline.Paginate(records, 5, 2)

			Convey("Then the result should be empty, not an error", func() {
				So(err, ShouldBeNil)
				So(out, ShouldNotBeNil)
				So(out, ShouldBeEmpty)
			})
		})

		Convey("When the limit exceeds the list", func() {
			out, err := pipeline.Paginate(records, 1, 50)

			Convey("Then the whole list should be returned", func() {
				So(err, ShouldBeNil)
				So(ids(out), ShouldResemble, []string{"a", "b", "c"})
			})
		})

		Convey("When the page window is huge", func() {
			out, err := pipeline.Paginate(records, math.MaxInt, math.MaxInt)

			Convey("Then the offset should saturate to an empty page", func() {
				So(err, ShouldBeNil)
				So(out, ShouldBeEmpty)
			})
		})

		Convey("When the returned page is modified", func() {
			out, _ := pipeline.Paginate(records, 1, 2)
			out[0].ID = "changed"

			Convey("Then the input should be unaffected", func() {
				So(records[0].ID, ShouldEqual, "a")
			})
		})

		Convey("When page or limit is below one", func() {
			for _, tc := range [][2]int{{0, 2}, {-1, 2}, {1, 0}, {1, -5}} {
				_, err := pipeline.Paginate(records, tc[0], tc[1])
				So(errors.Is(err, pipeline.ErrInvalidPage), ShouldBeTrue)
			}
		})
	})

	Convey("Given lists of many sizes", t, func() {
		Convey("Then every page should hold at most limit items and all pages should rebuild the input", func() {
			for n := 1; n <= 12; n++ {
				for limit := 1; limit <= 5; limit++ {
					records := numbered(n)
					pages := (n + limit - 1) / limit
					var rebuilt []trip.Record
					for p := 1; p <= pages; p++ {
						out, err := pipeline.Paginate(records, p, limit)
						So(err, ShouldBeNil)
						So(len(out), ShouldBeLessThanOrEqualTo, limit)
						So(out, ShouldNotBeEmpty)
						rebuilt = append(rebuilt, out...)
					}
					So(ids(rebuilt), ShouldResemble, ids(records))
				}
			}
		})
	})
}

func TestApply(t *testing.T) {
	Convey("Given records keyed b, a, c", t, func() {
		records := []trip.Record{{ID: "b"}, {ID: "a"}, {ID: "c"}}

		Convey("When sorting asc by id and taking page 1 of 2", func() {
			var stages []string
			out, err := pipeline.Apply(records, pipeline.Query{
				Sort: &pipeline.SortSpec{Key: "id", Order: pipeline.Ascending},
				Page: &pipeline.PageSpec{Page: 1, Limit: 2},
			}, func(stage string, _ time.Duration) {
				stages = append(stages, stage)
			})

			Convey("Then a and b should be returned", func() {
				So(err, ShouldBeNil)
				So(ids(out), ShouldResemble, []string{"a", "b"})
			})

			Convey("And both stages should be observed in order", func() {
				So(stages, ShouldResemble, []string{pipeline.StageSort, pipeline.StagePaginate})
			})
		})

		Convey("When the query is empty", func() {
			out, err := pipeline.Apply(records, pipeline.Query{}, nil)

			Convey("Then records should pass through unchanged", func() {
				So(err, ShouldBeNil)
				So(ids(out), ShouldResemble, []string{"b", "a", "c"})
			})
		})

		Convey("When only paginating", func() {
			out, err := pipeline.Apply(records, pipeline.Query{Page: &pipeline.PageSpec{Page: 2, Limit: 2}}, nil)

			Convey("Then the upstream order should be paged", func() {
				So(err, ShouldBeNil)
				So(ids(out), ShouldResemble, []string{"c"})
			})
		})

		Convey("When the sort key is invalid", func() {
			observed := 0
			_, err := pipeline.Apply(records, pipeline.Query{Sort: &pipeline.SortSpec{Key: "nope"}},
				func(string, time.Duration) { observed++ })

			Convey("Then it should fail without observing a stage", func() {
				So(errors.Is(err, pipeline.ErrInvalidSortKey), ShouldBeTrue)
				So(observed, ShouldEqual, 0)
			})
		})
	})
}

func TestQueryValidate(t *testing.T) {
	Convey("Given queries", t, func() {
		Convey("Then a valid query should pass", func() {
			q := pipeline.Query{
				Sort: &pipeline.SortSpec{Key: "price", Order: pipeline.Descending},
				Page: &pipeline.PageSpec{Page: 3, Limit: 10},
			}
			So(q.Validate(), ShouldBeNil)
		})

		Convey("Then a bad key should fail", func() {
			q := pipeline.Query{Sort: &pipeline.SortSpec{Key: "tags"}}
			So(errors.Is(q.Validate(), pipeline.ErrInvalidSortKey), ShouldBeTrue)
		})

		Convey("Then a bad page should fail", func() {
			q := pipeline.Query{Page: &pipeline.PageSpec{Page: 0, Limit: 10}}
			So(errors.Is(q.Validate(), pipeline.ErrInvalidPage), ShouldBeTrue)
		})
	})
}
