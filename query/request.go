package query

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/strata-tsdb/strata/sample"
)

/*
Package query defines the reshape request - the descriptor the query parser
hands to the column store - and the stream processor contract through which
materialized samples leave the engine. The parser itself lives upstream; this
package only carries its output across the boundary, with JSON codecs for
transport.
*/

////////////////////////////////////////////////////////////////////////////////

// OrderBy selects the total order of the output stream.
type OrderBy int

const (
	// OrderByTime orders output by (timestamp, series id).
	OrderByTime OrderBy = iota
	// OrderBySeries orders output by (series id, timestamp).
	OrderBySeries
)

func (o OrderBy) String() string {
	if o == OrderBySeries {
		return "series"
	}
	return "time"
}

// MarshalJSON encodes the order as its string name.
func (o OrderBy) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes the order from its string name.
func (o *OrderBy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse order-by: %w", err)
	}
	switch s {
	case "time":
		*o = OrderByTime
	case "series":
		*o = OrderBySeries
	default:
		return fmt.Errorf("unrecognized order-by %q", s)
	}
	return nil
}

// AggregationFunc selects the aggregate to materialize.
type AggregationFunc int

const (
	// AggMin materializes the minimum value at its own timestamp.
	AggMin AggregationFunc = iota
	// AggMax materializes the maximum value at its own timestamp.
	AggMax
	// AggSum materializes the sum at the timestamp of the last covered point.
	AggSum
	// AggCnt materializes the count at the timestamp of the last covered point.
	AggCnt
)

func (f AggregationFunc) String() string {
	switch f {
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggSum:
		return "sum"
	case AggCnt:
		return "cnt"
	}
	return fmt.Sprintf("agg(%d)", int(f))
}

// MarshalJSON encodes the function as its string name.
func (f AggregationFunc) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes the function from its string name.
func (f *AggregationFunc) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse aggregation function: %w", err)
	}
	switch s {
	case "min":
		*f = AggMin
	case "max":
		*f = AggMax
	case "sum":
		*f = AggSum
	case "cnt":
		*f = AggCnt
	default:
		return fmt.Errorf("unrecognized aggregation function %q", s)
	}
	return nil
}

// Range is the query time range. Begin < End scans forward over [Begin, End);
// Begin > End scans backward over (End, Begin].
type Range struct {
	Begin sample.Timestamp `json:"begin"`
	End   sample.Timestamp `json:"end"`
}

// Column is one logical dimension of a select: an ordered list of series ids.
// In a join, every column carries the same number of ids and row i joins the
// i-th id of each column.
type Column struct {
	IDs []sample.SeriesID `json:"ids"`
}

// Select lists the columns of the request.
type Select struct {
	Columns []Column `json:"columns"`
}

// GroupBy remaps series ids through a transient map before merging.
type GroupBy struct {
	Enabled      bool                                `json:"enabled"`
	TransientMap map[sample.SeriesID]sample.SeriesID `json:"transientMap,omitempty"`
}

// Aggregation enables aggregate materialization.
type Aggregation struct {
	Enabled bool            `json:"enabled"`
	Func    AggregationFunc `json:"func"`
}

// ReshapeRequest describes a materialization: a range scan, possibly with
// grouping, aggregation, or a multi-column join.
type ReshapeRequest struct {
	Range   Range       `json:"range"`
	Select  Select      `json:"select"`
	OrderBy OrderBy     `json:"orderBy"`
	GroupBy GroupBy     `json:"groupBy"`
	Agg     Aggregation `json:"agg"`
}

func (r ReshapeRequest) String() string {
	groupBy := "disabled"
	if r.GroupBy.Enabled {
		groupBy = "enabled"
	}
	return fmt.Sprintf(
		"ReshapeRequest(order-by: %s, group-by: %s, range-begin: %d, range-end: %d, select: %d)",
		r.OrderBy, groupBy, r.Range.Begin, r.Range.End, len(r.Select.Columns),
	)
}

// Parse decodes a reshape request from JSON. Shape validation is the
// dispatcher's job; Parse only rejects malformed encodings.
func Parse(data []byte) (ReshapeRequest, error) {
	var req ReshapeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ReshapeRequest{}, fmt.Errorf("failed to parse reshape request: %w", err)
	}
	return req, nil
}

// Encode serializes a reshape request to JSON.
func (r ReshapeRequest) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reshape request: %w", err)
	}
	return data, nil
}

// StreamProcessor consumes the output stream of a query. Put returns false to
// stop the query; SetError reports an abnormal termination; Complete marks a
// normal one.
type StreamProcessor interface {
	Put(s sample.Sample) bool
	SetError(err error)
	Complete()
}
