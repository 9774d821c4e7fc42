package kepler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/banshee-data/exodash/internal/exoplanet"
	"github.com/banshee-data/exodash/internal/httputil"
	"github.com/banshee-data/exodash/internal/monitoring"
)

// maxLoggedSkips bounds per-row skip logging; the rest are only counted.
const maxLoggedSkips = 20

// Options configures a Loader.
type Options struct {
	// Endpoint is the provider base URL, without query parameters.
	Endpoint string
	// Query is the provider query expression sent as the "query" parameter.
	Query string
	// Limit is sent as the "limit" parameter.
	Limit int
	// Fields maps semantic fields to provider paths. Nil means DefaultFieldMap.
	Fields FieldMap
	// Timeout bounds the whole fetch. Zero leaves it to the caller's context.
	Timeout time.Duration
	// MaxBodyBytes caps the response size. Zero means 64 MiB.
	MaxBodyBytes int64
}

// Loader fetches the candidate dataset once and turns it into a table.
type Loader struct {
	client  httputil.HTTPClient
	url     string
	fields  FieldMap
	timeout time.Duration
	maxBody int64
	now     func() time.Time
}

// NewLoader validates opts and builds the request URL.
func NewLoader(client httputil.HTTPClient, opts Options) (*Loader, error) {
	if client == nil {
		return nil, errors.New("kepler: nil HTTP client")
	}
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("kepler: invalid endpoint %q: %w", opts.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("kepler: endpoint %q must be http or https", opts.Endpoint)
	}
	q := u.Query()
	if opts.Query != "" {
		q.Set("query", opts.Query)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	u.RawQuery = q.Encode()

	fields := opts.Fields
	if fields == nil {
		fields = DefaultFieldMap()
	}
	if err := fields.Validate(); err != nil {
		return nil, fmt.Errorf("kepler: %w", err)
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 20
	}

	return &Loader{
		client:  client,
		url:     u.String(),
		fields:  fields,
		timeout: opts.Timeout,
		maxBody: maxBody,
		now:     time.Now,
	}, nil
}

// URL returns the full request URL.
func (l *Loader) URL() string { return l.url }

// Load issues one GET and returns the parsed table. Transport problems are
// reported as *FetchError and undecodable bodies as *ParseError. There is no
// retry; the caller decides whether a failure is fatal.
func (l *Loader) Load(ctx context.Context) (*exoplanet.Table, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, &FetchError{Endpoint: l.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := l.now()
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &FetchError{Endpoint: l.url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &FetchError{Endpoint: l.url, StatusCode: resp.StatusCode, Err: ErrUnexpectedStatus}
	}
	body, err := httputil.ReadBody(resp, l.maxBody)
	if err != nil {
		return nil, &FetchError{Endpoint: l.url, Err: err}
	}
	monitoring.Debugf("fetched %d bytes from %s in %v", len(body), l.url, l.now().Sub(start))

	parsed, err := Parse(body, l.fields)
	if err != nil {
		return nil, err
	}
	meta := exoplanet.Meta{
		Source:   l.url,
		LoadedAt: l.now(),
		Fetched:  parsed.Fetched,
		Skipped:  parsed.Skipped,
		Excluded: parsed.Excluded,
	}
	monitoring.Logf("loaded %d rows from %s (fetched=%d skipped=%d excluded=%d)",
		len(parsed.Rows), l.url, parsed.Fetched, parsed.Skipped, parsed.Excluded)
	return exoplanet.NewTable(parsed.Rows, meta), nil
}

// Parsed is the outcome of Parse.
type Parsed struct {
	Rows []exoplanet.Row
	// Fetched is the number of array elements.
	Fetched int
	// Skipped counts malformed elements.
	Skipped int
	// Excluded counts rows with a non-positive orbital period.
	Excluded int
}

// Parse decodes a JSON array of flat or nested records. Each element is
// flattened into dotted paths and mapped through fields. Elements that are
// not objects, or that lack a mapped field or carry a null, non-numeric or
// non-finite value, are skipped and logged. Numeric strings are accepted.
// Rows whose orbital period is not positive are excluded.
func Parse(body []byte, fields FieldMap) (Parsed, error) {
	var out Parsed
	if !gjson.ValidBytes(body) {
		return out, &ParseError{Err: ErrInvalidJSON}
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		return out, &ParseError{Err: ErrNotArray}
	}

	out.Rows = make([]exoplanet.Row, 0)
	index := 0
	doc.ForEach(func(_, el gjson.Result) bool {
		i := index
		index++
		out.Fetched++

		row, err := rowFromElement(el, fields)
		if err != nil {
			out.Skipped++
			if out.Skipped <= maxLoggedSkips {
				monitoring.Logf("skipping record %d: %v", i, err)
			}
			return true
		}
		if !(row.OrbitalPeriodDays > 0) {
			out.Excluded++
			return true
		}
		out.Rows = append(out.Rows, row)
		return true
	})
	if out.Skipped > maxLoggedSkips {
		monitoring.Logf("skipped %d malformed records (%d not logged)", out.Skipped, out.Skipped-maxLoggedSkips)
	}
	return out, nil
}

// Flatten turns an object into a map of dotted paths to leaf values. Nested
// objects are descended into; arrays and scalars are leaves.
func Flatten(obj gjson.Result) map[string]gjson.Result {
	out := make(map[string]gjson.Result)
	flattenInto(out, "", obj)
	return out
}

func flattenInto(out map[string]gjson.Result, prefix string, obj gjson.Result) {
	obj.ForEach(func(key, value gjson.Result) bool {
		path := key.String()
		if prefix != "" {
			path = prefix + "." + path
		}
		if value.IsObject() {
			flattenInto(out, path, value)
		} else {
			out[path] = value
		}
		return true
	})
}

func rowFromElement(el gjson.Result, fields FieldMap) (exoplanet.Row, error) {
	var row exoplanet.Row
	if !el.IsObject() {
		return row, fmt.Errorf("element is %s, not an object", el.Type)
	}
	flat := Flatten(el)

	numeric := []struct {
		field Field
		dst   *float64
	}{
		{FieldOrbitalPeriod, &row.OrbitalPeriodDays},
		{FieldPlanetRadius, &row.PlanetRadius},
		{FieldStarRadius, &row.StarRadius},
		{FieldPlanetTemperature, &row.PlanetTemperature},
		{FieldSemiMajorAxis, &row.SemiMajorAxis},
	}
	for _, n := range numeric {
		path := fields[n.field]
		v, ok := flat[path]
		if !ok {
			return row, fmt.Errorf("missing field %s (%s)", n.field, path)
		}
		f, err := numberValue(v)
		if err != nil {
			return row, fmt.Errorf("field %s (%s): %w", n.field, path, err)
		}
		*n.dst = f
	}

	path := fields[FieldRowID]
	v, ok := flat[path]
	if !ok {
		return row, fmt.Errorf("missing field %s (%s)", FieldRowID, path)
	}
	id, err := identifierValue(v)
	if err != nil {
		return row, fmt.Errorf("field %s (%s): %w", FieldRowID, path, err)
	}
	row.RowID = id
	row.StarSize = exoplanet.Unclassified
	return row, nil
}

func numberValue(v gjson.Result) (float64, error) {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Num
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v.Str)
		}
		f = parsed
	case gjson.Null:
		return 0, errors.New("null value")
	default:
		return 0, fmt.Errorf("not a number: %s", v.Raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %s", v.Raw)
	}
	return f, nil
}

func identifierValue(v gjson.Result) (string, error) {
	switch v.Type {
	case gjson.Number:
		return v.Raw, nil
	case gjson.String:
		if s := strings.TrimSpace(v.Str); s != "" {
			return s, nil
		}
		return "", errors.New("empty identifier")
	case gjson.Null:
		return "", errors.New("null value")
	}
	return "", fmt.Errorf("not an identifier: %s", v.Raw)
}
