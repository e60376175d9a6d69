package query_test

import (
	"testing"

	"github.com/strata-tsdb/strata/query"
	"github.com/strata-tsdb/strata/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := query.ReshapeRequest{
		Range: query.Range{Begin: 10, End: 500},
		Select: query.Select{Columns: []query.Column{
			{IDs: []sample.SeriesID{1, 2, 3}},
			{IDs: []sample.SeriesID{4, 5, 6}},
		}},
		OrderBy: query.OrderBySeries,
		GroupBy: query.GroupBy{
			Enabled:      true,
			TransientMap: map[sample.SeriesID]sample.SeriesID{1: 7, 2: 7, 3: 8},
		},
		Agg: query.Aggregation{Enabled: true, Func: query.AggCnt},
	}
	data, err := req.Encode()
	require.NoError(t, err)
	parsed, err := query.Parse(data)
	require.NoError(t, err)
	require.Equal(t, req, parsed)
}

func TestParse(t *testing.T) {
	cases := []struct {
		assertion string
		input     string
		ok        bool
	}{
		{
			"minimal scan request",
			`{"range": {"begin": 1, "end": 5}, "select": {"columns": [{"ids": [1, 2]}]}, "orderBy": "time"}`,
			true,
		},
		{
			"aggregate request",
			`{"range": {"begin": 1, "end": 5}, "select": {"columns": [{"ids": [1]}]}, "orderBy": "series", "agg": {"enabled": true, "func": "sum"}}`,
			true,
		},
		{
			"unknown order",
			`{"orderBy": "alphabetical"}`,
			false,
		},
		{
			"unknown aggregation function",
			`{"agg": {"enabled": true, "func": "median"}}`,
			false,
		},
		{
			"malformed json",
			`{"range": `,
			false,
		},
	}
	for _, c := range cases {
		t.Run(c.assertion, func(t *testing.T) {
			_, err := query.Parse([]byte(c.input))
			if c.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestRequestString(t *testing.T) {
	req := query.ReshapeRequest{
		Range:   query.Range{Begin: 1, End: 5},
		Select:  query.Select{Columns: []query.Column{{IDs: []sample.SeriesID{1}}}},
		OrderBy: query.OrderByTime,
	}
	assert.Equal(t,
		"ReshapeRequest(order-by: time, group-by: disabled, range-begin: 1, range-end: 5, select: 1)",
		req.String(),
	)
}
