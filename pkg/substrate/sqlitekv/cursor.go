package sqlitekv

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/eunmann/chunkagg/pkg/substrate"
)

// Scan implements substrate.Backend.
//
// The cursor pages through the range with keyset pagination, fetching
// ScanBatchSize rows per query and closing the result set before handing
// rows to the caller. No statement stays open between Next calls, so
// Delete and other operations on the single connection never block on it.
func (b *Backend) Scan(ctx context.Context, store string, prefix substrate.Key) (substrate.Cursor, error) {
	if err := b.check(store); err != nil {
		return nil, err
	}
	p := prefix.Encode()
	return &cursor{
		b:     b,
		ctx:   ctx,
		store: store,
		lower: p,
		upper: substrate.PrefixEnd(p),
		batch: b.cfg.ScanBatchSize,
	}, nil
}

type kv struct {
	k []byte
	v []byte
}

type cursor struct {
	b     *Backend
	ctx   context.Context
	store string
	lower []byte
	upper []byte // nil means unbounded
	batch int

	buf     []kv
	pos     int
	last    []byte // last key fetched, exclusive lower bound of the next page
	started bool
	done    bool

	cur    kv
	curKey substrate.Key
	err    error
	closed bool
}

func (c *cursor) fetch() error {
	var (
		conds []string
		args  []any
	)
	switch {
	case c.started:
		conds = append(conds, "k > ?")
		args = append(args, c.last)
	case len(c.lower) > 0:
		conds = append(conds, "k >= ?")
		args = append(args, c.lower)
	}
	if c.upper != nil {
		conds = append(conds, "k < ?")
		args = append(args, c.upper)
	}

	var query strings.Builder
	query.WriteString("SELECT k, v FROM " + tableName(c.store))
	if len(conds) > 0 {
		query.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	query.WriteString(fmt.Sprintf(" ORDER BY k LIMIT %d", c.batch))

	rows, err := c.b.db.QueryContext(c.ctx, query.String(), args...)
	if err != nil {
		return fmt.Errorf("scan %s: %w", c.store, err)
	}
	defer rows.Close()

	c.buf = c.buf[:0]
	c.pos = 0
	for rows.Next() {
		var e kv
		if err := rows.Scan(&e.k, &e.v); err != nil {
			return fmt.Errorf("scan %s row: %w", c.store, err)
		}
		c.buf = append(c.buf, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan %s rows: %w", c.store, err)
	}

	c.started = true
	if len(c.buf) < c.batch {
		c.done = true
	}
	if len(c.buf) > 0 {
		c.last = c.buf[len(c.buf)-1].k
	}
	return nil
}

func (c *cursor) Next() bool {
	if c.err != nil || c.closed {
		return false
	}
	if c.pos >= len(c.buf) {
		if c.done {
			return false
		}
		if err := c.ctx.Err(); err != nil {
			c.err = err
			return false
		}
		if err := c.fetch(); err != nil {
			c.err = err
			return false
		}
		if len(c.buf) == 0 {
			return false
		}
	}

	c.cur = c.buf[c.pos]
	c.pos++
	if !bytes.HasPrefix(c.cur.k, c.lower) {
		// Cannot happen with a correct upper bound; stop rather than leak
		// keys from outside the range.
		return false
	}
	key, err := substrate.DecodeKey(c.cur.k)
	if err != nil {
		c.err = fmt.Errorf("decode %s key: %w", c.store, err)
		return false
	}
	c.curKey = key
	return true
}

func (c *cursor) Key() substrate.Key { return c.curKey }

func (c *cursor) Value() []byte { return c.cur.v }

func (c *cursor) Delete() error {
	if c.cur.k == nil {
		return fmt.Errorf("delete %s: cursor not positioned", c.store)
	}
	if _, err := c.b.db.ExecContext(c.ctx, "DELETE FROM "+tableName(c.store)+" WHERE k = ?", c.cur.k); err != nil {
		return fmt.Errorf("delete %s: %w", c.store, err)
	}
	return nil
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}
