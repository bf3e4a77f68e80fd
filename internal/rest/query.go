package rest

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopfloor/mtcagent/internal/assembler"
	"github.com/shopfloor/mtcagent/internal/schema"
	"github.com/shopfloor/mtcagent/internal/store"
)

type requestKind int

const (
	kindCurrent requestKind = iota
	kindSample
)

// maxInterval is the largest accepted interval= value in milliseconds.
const maxInterval = 1<<31 - 2

// defaultSampleCount caps sample responses when count= is absent.
const defaultSampleCount = 100

// query carries the validated request parameters of a current or sample
// request.
type query struct {
	at       *uint64
	from     uint64
	count    int
	interval *int

	path      *schema.Path
	pathErr   *assembler.RequestError
	selection assembler.Selection
}

// parseQuery validates the query parameters of a current or sample request.
// Every invalid parameter contributes its own error so a single response can
// report all of them, in the order from, count, at, interval, path.
func parseQuery(r *http.Request, kind requestKind, st *store.Store) (*query, []*assembler.RequestError) {
	values := r.URL.Query()
	first, _, next := st.Window()

	q := &query{count: defaultSampleCount}
	if int(st.Capacity()) < q.count {
		q.count = int(st.Capacity())
	}
	q.from = first
	if q.from == 0 {
		q.from = 1
	}

	var errs []*assembler.RequestError

	if kind == kindSample {
		if raw := values.Get("from"); raw != "" {
			from, err := strconv.ParseUint(raw, 10, 64)
			switch {
			case err != nil || from == 0:
				errs = append(errs, &assembler.RequestError{
					Code:    assembler.CodeOutOfRange,
					Message: fmt.Sprintf("'from' must be a positive integer, not %q", raw),
				})
			case from < first || from > next:
				errs = append(errs, &assembler.RequestError{
					Code:    assembler.CodeOutOfRange,
					Message: fmt.Sprintf("'from' must be between %d and %d", first, next),
				})
			default:
				q.from = from
			}
		}

		if raw := values.Get("count"); raw != "" {
			count, err := strconv.Atoi(raw)
			switch {
			case err != nil || count < 1:
				errs = append(errs, &assembler.RequestError{
					Code:    assembler.CodeOutOfRange,
					Message: "'count' must be greater than or equal to 1",
				})
			case uint64(count) > st.Capacity():
				errs = append(errs, &assembler.RequestError{
					Code:    assembler.CodeOutOfRange,
					Message: fmt.Sprintf("'count' must be less than or equal to the buffer size %d", st.Capacity()),
				})
			default:
				q.count = count
			}
		}
	}

	if kind == kindCurrent {
		if raw := values.Get("at"); raw != "" {
			at, err := strconv.ParseUint(raw, 10, 64)
			if err != nil || at == 0 {
				errs = append(errs, &assembler.RequestError{
					Code:    assembler.CodeOutOfRange,
					Message: fmt.Sprintf("'at' must be a positive integer, not %q", raw),
				})
			} else {
				q.at = &at
			}
		}
	}

	if raw := values.Get("interval"); raw != "" {
		interval, err := strconv.Atoi(raw)
		switch {
		case err != nil || interval < 0 || interval > maxInterval:
			errs = append(errs, &assembler.RequestError{
				Code:    assembler.CodeOutOfRange,
				Message: fmt.Sprintf("'interval' must be between 0 and %d", maxInterval),
			})
		case q.at != nil:
			errs = append(errs, &assembler.RequestError{
				Code:    assembler.CodeInvalidRequest,
				Message: "'at' cannot be used with 'interval'",
			})
		default:
			q.interval = &interval
		}
	}

	// An unparseable path surfaces through buildSelection so path errors
	// keep their place at the end of the accumulated list.
	if raw := values.Get("path"); raw != "" {
		path, err := schema.ParsePath(raw)
		if err != nil {
			q.pathErr = &assembler.RequestError{
				Code:    assembler.CodeInvalidXPath,
				Message: fmt.Sprintf("The path %q is invalid", raw),
			}
		} else {
			q.path = path
		}
	}

	return q, errs
}

// parseAssetCount validates the count= parameter of an asset listing request.
// Zero means unlimited.
func parseAssetCount(r *http.Request) (int, []*assembler.RequestError) {
	raw := r.URL.Query().Get("count")
	if raw == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 {
		return 0, []*assembler.RequestError{{
			Code:    assembler.CodeOutOfRange,
			Message: "'count' must be greater than or equal to 1",
		}}
	}
	return count, nil
}
