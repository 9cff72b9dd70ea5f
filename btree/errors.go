package btree

import "github.com/mgtoolkit/mgstore/mgerr"

var errNotSorted = mgerr.New(mgerr.Fmt, "btree: page failed integrity check, entries not sorted")
