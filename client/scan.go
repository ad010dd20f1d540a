package client

import (
	"context"
	"fmt"

	"github.com/luma/conduit/protocol"
)

// ScanArgs are the optional MATCH and COUNT arguments of a scan.
type ScanArgs struct {
	Match string
	Count int64
}

func (a ScanArgs) appendTo(args *Args) *Args {
	if a.Match != "" {
		args.Add("MATCH").Add(a.Match)
	}
	if a.Count > 0 {
		args.Add("COUNT").Add(a.Count)
	}
	return args
}

// ScanPage is one reply of a cursor based scan. Cursor "0" means the scan
// is complete.
type ScanPage struct {
	Cursor string
	Keys   []string
}

func (p ScanPage) Finished() bool {
	return p.Cursor == "0"
}

func decodeScanPage(v protocol.Value) (ScanPage, error) {
	if !isList(v) || len(v.Elems) != 2 {
		return ScanPage{}, fmt.Errorf("%w: malformed scan reply", ErrUnexpectedReply)
	}

	cursor, err := String(v.Elems[0])
	if err != nil {
		return ScanPage{}, err
	}

	keys, err := Strings(v.Elems[1])
	if err != nil {
		return ScanPage{}, err
	}

	return ScanPage{Cursor: cursor, Keys: keys}, nil
}

// SScan fetches one page of the members of key starting at cursor.
func (c *Client) SScan(key, cursor string, opts ScanArgs) *Future[ScanPage] {
	args := opts.appendTo(NewArgs(key, cursor))
	return Do(c, protocol.SSCAN, args, decodeScanPage)
}

// SScanAll iterates over every member of key. The next page is only
// requested once the current one has been consumed.
func (c *Client) SScanAll(key string, opts ScanArgs) *ScanStream {
	return &ScanStream{
		fetch: func(cursor string) *Future[ScanPage] {
			return c.SScan(key, cursor, opts)
		},
		cursor: "0",
	}
}

// ScanStream is a Sequence over all pages of a scan. A member may show up
// more than once if the set changes during the scan.
type ScanStream struct {
	fetch func(cursor string) *Future[ScanPage]

	page    *Future[ScanPage]
	cursor  string
	started bool
	keys    []string
	cur     string
	err     error
	closed  bool
}

func (s *ScanStream) Next(ctx context.Context) bool {
	for {
		if s.closed || s.err != nil {
			return false
		}

		if len(s.keys) > 0 {
			s.cur, s.keys = s.keys[0], s.keys[1:]
			return true
		}

		if s.started && s.cursor == "0" {
			return false
		}

		if s.page == nil {
			s.page = s.fetch(s.cursor)
		}

		page, err := s.page.Wait(ctx)
		if err != nil {
			s.err = err
			return false
		}

		s.page = nil
		s.started = true
		s.cursor = page.Cursor
		s.keys = page.Keys
	}
}

func (s *ScanStream) Value() string {
	return s.cur
}

func (s *ScanStream) Err() error {
	return s.err
}

// Close stops the scan, an in flight page is abandoned.
func (s *ScanStream) Close() {
	if s.page != nil {
		s.page.Cancel()
		s.page = nil
	}
	s.closed = true
	s.keys = nil
}

var _ Sequence[string] = (*ScanStream)(nil)
